package gcp

import (
	"testing"

	vipb "cloud.google.com/go/videointelligence/apiv1/videointelligencepb"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/protobuf/types/known/durationpb"
)

func TestParseObjectTracks(t *testing.T) {
	anns := []*vipb.ObjectTrackingAnnotation{
		{
			Entity:     &vipb.Entity{Description: "Person"},
			Confidence: 0.8,
			TrackInfo:  &vipb.ObjectTrackingAnnotation_TrackId{TrackId: 7},
			Frames: []*vipb.ObjectTrackingFrame{
				{TimeOffset: &durationpb.Duration{Seconds: 4}, NormalizedBoundingBox: &vipb.NormalizedBoundingBox{Left: 0.2, Top: 0.2, Right: 0.3, Bottom: 0.5}},
				{TimeOffset: &durationpb.Duration{Seconds: 3, Nanos: 500000000}, NormalizedBoundingBox: &vipb.NormalizedBoundingBox{Left: 0.1, Top: 0.2, Right: 1.2, Bottom: 0.5}},
			},
		},
		{
			Entity:     &vipb.Entity{Description: "car"},
			Confidence: 0.9,
			TrackInfo: &vipb.ObjectTrackingAnnotation_Segment{Segment: &vipb.VideoSegment{
				StartTimeOffset: &durationpb.Duration{Seconds: 1},
				EndTimeOffset:   &durationpb.Duration{Seconds: 6},
			}},
		},
		nil,
	}

	got := parseObjectTracks(anns)
	if len(got) != 2 {
		t.Fatalf("len=%d want=2", len(got))
	}
	car, person := got[0], got[1]
	if car.Entity != "car" || car.StartSec != 1 || car.EndSec != 6 || car.TrackID != "track_1" {
		t.Fatalf("car track: %+v", car)
	}
	if person.Entity != "person" || person.TrackID != "track_7" {
		t.Fatalf("person track: %+v", person)
	}
	if person.StartSec != 3.5 || person.EndSec != 4 {
		t.Fatalf("person span from boxes: %v..%v", person.StartSec, person.EndSec)
	}
	if person.Boxes[0].Right != 1 {
		t.Fatalf("box not clamped: %+v", person.Boxes[0])
	}
}

func TestParseLocalizedObjects(t *testing.T) {
	anns := []*visionpb.LocalizedObjectAnnotation{
		{
			Name:  "Bicycle",
			Score: 0.75,
			BoundingPoly: &visionpb.BoundingPoly{NormalizedVertices: []*visionpb.NormalizedVertex{
				{X: 0.1, Y: 0.2}, {X: 0.4, Y: 0.2}, {X: 0.4, Y: 0.6}, {X: 0.1, Y: 0.6},
			}},
		},
		{Name: "no box", Score: 0.9},
	}
	got := parseLocalizedObjects(anns)
	if len(got) != 1 {
		t.Fatalf("len=%d want=1", len(got))
	}
	o := got[0]
	if o.Name != "bicycle" || o.Left < 0.099 || o.Right < 0.399 || o.Top < 0.199 || o.Bottom < 0.599 {
		t.Fatalf("unexpected object: %+v", o)
	}
}
