package analysis

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	types "github.com/yungbote/videoreview-backend/internal/domain"
)

const (
	mockClassifierName = "mock_classifier"
	mockCheckerName    = "guideline_checker"
)

// ObjectVocabulary is the class set the mock detector draws from.
var ObjectVocabulary = []string{
	"car", "truck", "bus", "motorcycle", "bicycle",
	"person", "traffic_light", "stop_sign", "crosswalk",
}

type eventArchetype struct {
	eventType   string
	title       string
	description string
	severity    string
}

var mockEventArchetypes = []eventArchetype{
	{"vehicle_movement", "Vehicle Movement Detected", "A vehicle was observed moving through the scene", types.SeverityInfo},
	{"pedestrian_crossing", "Pedestrian Crossing", "A pedestrian crossed the street", types.SeverityInfo},
	{"traffic_light_change", "Traffic Light Change", "Traffic light changed state", types.SeverityInfo},
	{"sudden_stop", "Sudden Vehicle Stop", "A vehicle stopped suddenly", types.SeverityWarning},
}

// MockDetector draws plausible detections from an injected random source.
// The same seed and call order yield the same output.
type MockDetector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewMockDetector(rng *rand.Rand) *MockDetector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &MockDetector{rng: rng}
}

// NewSeededMockDetector uses seed, or the clock when seed is 0.
func NewSeededMockDetector(seed int64) *MockDetector {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return NewMockDetector(rand.New(rand.NewSource(seed)))
}

func (m *MockDetector) Name() string { return DetectorMock }

func (m *MockDetector) uniform(lo, hi float64) float64 {
	return lo + m.rng.Float64()*(hi-lo)
}

// randint is inclusive on both ends.
func (m *MockDetector) randint(lo, hi int) int {
	return lo + m.rng.Intn(hi-lo+1)
}

func (m *MockDetector) DetectObjects(ctx context.Context, video *types.Video, frame *types.Frame) ([]ObjectDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.randint(0, 5)
	out := make([]ObjectDetection, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ObjectDetection{
			ClassName:  ObjectVocabulary[m.rng.Intn(len(ObjectVocabulary))],
			Confidence: m.uniform(0.7, 0.95),
			X:          m.uniform(0, 0.8),
			Y:          m.uniform(0, 0.8),
			Width:      m.uniform(0.1, 0.2),
			Height:     m.uniform(0.1, 0.2),
			TrackID:    fmt.Sprintf("track_%d_%d", i, frame.FrameNumber),
		})
	}
	return out, nil
}

func (m *MockDetector) ClassifyEvents(ctx context.Context, video *types.Video) ([]EventDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	duration := video.Duration()
	if duration <= MinEventClassificationDuration {
		return nil, fmt.Errorf("event classification needs duration > %.0fs, got %.3fs", MinEventClassificationDuration, duration)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.randint(2, 8)
	out := make([]EventDetection, 0, n)
	for i := 0; i < n; i++ {
		a := mockEventArchetypes[m.rng.Intn(len(mockEventArchetypes))]
		start := m.uniform(0, duration-MinEventClassificationDuration)
		end := start + m.uniform(1, 5)
		out = append(out, EventDetection{
			EventType:   a.eventType,
			Title:       a.title,
			Description: a.description,
			Severity:    a.severity,
			StartTime:   start,
			EndTime:     &end,
			Confidence:  m.uniform(0.7, 0.95),
			DetectedBy:  mockClassifierName,
		})
	}
	return out, nil
}

func (m *MockDetector) CheckGuidelines(ctx context.Context, video *types.Video, rules []GuidelineRule, events []*types.Event) ([]EventDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	duration := video.Duration()
	if duration <= MinGuidelineCheckDuration {
		return nil, fmt.Errorf("guideline check needs duration > %.0fs, got %.3fs", MinGuidelineCheckDuration, duration)
	}
	if len(rules) == 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.randint(0, 3)
	out := make([]EventDetection, 0, n)
	for i := 0; i < n; i++ {
		r := rules[m.rng.Intn(len(rules))]
		start := m.uniform(0, duration-MinGuidelineCheckDuration)
		end := start + m.uniform(1, 3)
		out = append(out, EventDetection{
			EventType:          r.Key,
			Title:              r.Title,
			Description:        r.Description,
			Severity:           r.Severity,
			StartTime:          start,
			EndTime:            &end,
			Confidence:         m.uniform(0.8, 0.95),
			DetectedBy:         mockCheckerName,
			IsViolation:        true,
			GuidelineReference: r.Guideline,
		})
	}
	return out, nil
}
