package fleet

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
)

// Route is a row of routes.txt
type Route struct {
	RouteID string
}

// Stop is a row of stops.txt
type Stop struct {
	StopID string
	Name   string
	Lat    float64
	Lon    float64
}

// Trip is a row of trips.txt
type Trip struct {
	TripID  string
	RouteID string
}

// StopTime is a row of stop_times.txt
type StopTime struct {
	TripID       string
	StopID       string
	StopSequence int
}

// Feed is the subset of a static GTFS feed needed to place vehicles
type Feed struct {
	Routes    []Route
	Stops     map[string]Stop
	Trips     []Trip                // file order
	StopTimes map[string][]StopTime // keyed by trip_id, sorted by stop_sequence
}

// ParseGTFS reads routes, stops, trips and stop_times from a GTFS zip.
// routes.txt and stops.txt are required; a malformed row is skipped.
func ParseGTFS(zipPath string) (*Feed, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	files := make(map[string]*zip.File)
	for _, f := range r.File {
		files[f.Name] = f
	}

	feed := &Feed{
		Stops:     make(map[string]Stop),
		StopTimes: make(map[string][]StopTime),
	}

	for _, name := range []string{"routes.txt", "stops.txt"} {
		if _, ok := files[name]; !ok {
			return nil, fmt.Errorf("GTFS zip is missing %s", name)
		}
	}

	err = eachRow(files["routes.txt"], func(row csvRow) {
		feed.Routes = append(feed.Routes, Route{RouteID: row.get("route_id")})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse routes.txt: %w", err)
	}

	err = eachRow(files["stops.txt"], func(row csvRow) {
		lat, errLat := strconv.ParseFloat(row.get("stop_lat"), 64)
		lon, errLon := strconv.ParseFloat(row.get("stop_lon"), 64)
		if errLat != nil || errLon != nil {
			return
		}
		id := row.get("stop_id")
		feed.Stops[id] = Stop{StopID: id, Name: row.get("stop_name"), Lat: lat, Lon: lon}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse stops.txt: %w", err)
	}

	if f, ok := files["trips.txt"]; ok {
		err := eachRow(f, func(row csvRow) {
			feed.Trips = append(feed.Trips, Trip{
				TripID:  row.get("trip_id"),
				RouteID: row.get("route_id"),
			})
		})
		if err != nil {
			log.Printf("Warning: failed to parse trips.txt: %v", err)
		}
	}

	if f, ok := files["stop_times.txt"]; ok {
		err := eachRow(f, func(row csvRow) {
			seq, _ := strconv.Atoi(row.get("stop_sequence"))
			tripID := row.get("trip_id")
			feed.StopTimes[tripID] = append(feed.StopTimes[tripID], StopTime{
				TripID:       tripID,
				StopID:       row.get("stop_id"),
				StopSequence: seq,
			})
		})
		if err != nil {
			log.Printf("Warning: failed to parse stop_times.txt: %v", err)
		}
		for tripID := range feed.StopTimes {
			times := feed.StopTimes[tripID]
			sort.SliceStable(times, func(i, j int) bool {
				return times[i].StopSequence < times[j].StopSequence
			})
		}
	}

	log.Printf("GTFS parsed: %d routes, %d stops, %d trips", len(feed.Routes), len(feed.Stops), len(feed.Trips))
	return feed, nil
}

// csvRow gives by-name access to one record
type csvRow struct {
	record []string
	index  map[string]int
}

func (r csvRow) get(field string) string {
	if i, ok := r.index[field]; ok && i < len(r.record) {
		return strings.TrimSpace(r.record[i])
	}
	return ""
}

// eachRow calls fn for every well-formed record after the header.
// Malformed CSV rows are skipped; any other read error (a corrupt or
// truncated zip entry) ends the file.
func eachRow(f *zip.File, fn func(row csvRow)) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return err
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		// Some feeds start with a UTF-8 BOM
		index[strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")] = i
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			continue
		}
		if err != nil {
			return err
		}
		fn(csvRow{record: record, index: index})
	}
}
