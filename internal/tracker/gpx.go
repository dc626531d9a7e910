package tracker

import (
	"fmt"
	"io"

	"github.com/tkrajina/gpxgo/gpx"

	"geotrek-offline/internal/storage"
)

const gpxCreator = "geotrek-offline"

// ExportGPX renders a trek as a GPX 1.1 document with one track segment.
// Only the first and last vertices carry timestamps.
func ExportGPX(trek storage.Trek) ([]byte, error) {
	segment := gpx.GPXTrackSegment{Points: make([]gpx.GPXPoint, 0, len(trek.Path))}
	for i, v := range trek.Path {
		p := gpx.GPXPoint{Point: gpx.Point{Latitude: v.Lat, Longitude: v.Lng}}
		switch i {
		case 0:
			p.Timestamp = trek.StartTime.UTC()
		case len(trek.Path) - 1:
			p.Timestamp = trek.EndTime.UTC()
		}
		segment.Points = append(segment.Points, p)
	}
	doc := &gpx.GPX{
		Creator: gpxCreator,
		Name:    trek.Name,
		Tracks: []gpx.GPXTrack{{
			Name:     trek.Name,
			Segments: []gpx.GPXTrackSegment{segment},
		}},
	}
	data, err := doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return nil, fmt.Errorf("encode gpx: %w", err)
	}
	return data, nil
}

// ReadGPX returns the track points of a GPX document as position fixes, in
// file order. Points without a timestamp get TimestampMs 0.
func ReadGPX(r io.Reader) ([]PositionFix, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gpx: %w", err)
	}
	doc, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse gpx: %w", err)
	}
	var fixes []PositionFix
	for _, track := range doc.Tracks {
		for _, segment := range track.Segments {
			for _, p := range segment.Points {
				fix := PositionFix{Lat: p.Latitude, Lng: p.Longitude}
				if !p.Timestamp.IsZero() {
					fix.TimestampMs = p.Timestamp.UnixMilli()
				}
				fixes = append(fixes, fix)
			}
		}
	}
	return fixes, nil
}
