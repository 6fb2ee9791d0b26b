package analysis

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"

	"github.com/yungbote/videoreview-backend/internal/data/repos"
	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/dbctx"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

const guidelinesCatalogEnv = "ANALYSIS_GUIDELINES_YAML"

//go:embed guidelines.yaml
var guidelinesFS embed.FS

// GuidelineRule describes one violation the checker can report.
type GuidelineRule struct {
	Key         string      `yaml:"key" json:"key"`
	Title       string      `yaml:"title" json:"title"`
	Description string      `yaml:"description" json:"description"`
	Severity    string      `yaml:"severity" json:"severity"`
	Guideline   string      `yaml:"guideline" json:"guideline"`
	Trigger     RuleTrigger `yaml:"trigger" json:"trigger"`
}

// RuleTrigger matches classified events. Zero values disable a bound.
type RuleTrigger struct {
	EventType     string  `yaml:"event_type" json:"event_type"`
	MinDuration   float64 `yaml:"min_duration" json:"min_duration"`
	MaxDuration   float64 `yaml:"max_duration" json:"max_duration"`
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`
}

// Matches reports whether ev satisfies the trigger.
func (t RuleTrigger) Matches(ev *types.Event) bool {
	if ev == nil || t.EventType == "" || ev.EventType != t.EventType || ev.IsViolation {
		return false
	}
	d := ev.CalculatedDuration()
	if t.MinDuration > 0 && d < t.MinDuration {
		return false
	}
	if t.MaxDuration > 0 && d > t.MaxDuration {
		return false
	}
	return ev.Confidence >= t.MinConfidence
}

type Catalog struct {
	Name    string          `yaml:"catalog"`
	Version int             `yaml:"version"`
	Rules   []GuidelineRule `yaml:"rules"`
}

// LoadCatalog reads the guideline catalog from ANALYSIS_GUIDELINES_YAML, or the embedded default.
func LoadCatalog() (*Catalog, error) {
	var data []byte
	var err error
	if path := strings.TrimSpace(os.Getenv(guidelinesCatalogEnv)); path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = guidelinesFS.ReadFile("guidelines.yaml")
	}
	if err != nil {
		return nil, fmt.Errorf("read guideline catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse guideline catalog: %w", err)
	}
	if len(c.Rules) == 0 {
		return nil, errors.New("guideline catalog has no rules")
	}
	seen := map[string]bool{}
	for i := range c.Rules {
		r := &c.Rules[i]
		if err := r.validate(); err != nil {
			return nil, err
		}
		if seen[r.Key] {
			return nil, fmt.Errorf("duplicate guideline rule key: %s", r.Key)
		}
		seen[r.Key] = true
	}
	return &c, nil
}

func (r *GuidelineRule) validate() error {
	r.Key = strings.TrimSpace(r.Key)
	if r.Key == "" {
		return errors.New("guideline rule key is required")
	}
	if r.Title == "" {
		r.Title = r.Key
	}
	if r.Severity == "" {
		r.Severity = types.SeverityViolation
	}
	if !types.IsSeverity(r.Severity) {
		return fmt.Errorf("guideline rule %s: unknown severity %q", r.Key, r.Severity)
	}
	if r.Guideline == "" {
		r.Guideline = r.Title
	}
	return nil
}

// customRules is the shape accepted in Video.CustomRules.
type customRules struct {
	Rules    []GuidelineRule `json:"rules"`
	Disabled []string        `json:"disabled"`
}

// ParseCustomRules validates a custom_rules document without merging it.
func ParseCustomRules(raw []byte) error {
	_, err := decodeCustomRules(raw)
	return err
}

func decodeCustomRules(raw []byte) (*customRules, error) {
	cr := &customRules{}
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == "{}" {
		return cr, nil
	}
	if err := json.Unmarshal([]byte(s), cr); err != nil {
		return nil, fmt.Errorf("custom_rules: %w", err)
	}
	for i := range cr.Rules {
		if err := cr.Rules[i].validate(); err != nil {
			return nil, fmt.Errorf("custom_rules: %w", err)
		}
	}
	return cr, nil
}

// RulesFor merges a video's custom_rules over the catalog. Custom rules replace catalog rules with
// the same key and are appended otherwise; disabled keys are dropped. A malformed document is
// reported as a warning and the catalog is used unchanged.
func (c *Catalog) RulesFor(custom datatypes.JSON) ([]GuidelineRule, []string) {
	base := []GuidelineRule{}
	if c != nil {
		base = append(base, c.Rules...)
	}
	cr, err := decodeCustomRules(custom)
	if err != nil {
		return base, []string{fmt.Sprintf("ignored invalid custom rules: %v", err)}
	}

	idx := map[string]int{}
	for i, r := range base {
		idx[r.Key] = i
	}
	for _, r := range cr.Rules {
		if i, ok := idx[r.Key]; ok {
			base[i] = r
			continue
		}
		idx[r.Key] = len(base)
		base = append(base, r)
	}
	if len(cr.Disabled) == 0 {
		return base, nil
	}
	disabled := map[string]bool{}
	for _, k := range cr.Disabled {
		disabled[strings.TrimSpace(k)] = true
	}
	out := base[:0]
	for _, r := range base {
		if !disabled[r.Key] {
			out = append(out, r)
		}
	}
	return out, nil
}

// GuidelineChecker persists violation events reported by the detector.
type GuidelineChecker struct {
	log      *logger.Logger
	detector Detector
	events   repos.EventRepo
	frames   repos.FrameRepo
	objects  repos.DetectedObjectRepo
}

func NewGuidelineChecker(log *logger.Logger, detector Detector, events repos.EventRepo, frames repos.FrameRepo, objects repos.DetectedObjectRepo) *GuidelineChecker {
	return &GuidelineChecker{
		log:      log.With("stage", StageGuidelines),
		detector: detector,
		events:   events,
		frames:   frames,
		objects:  objects,
	}
}

func (g *GuidelineChecker) Check(ctx context.Context, video *types.Video, rules []GuidelineRule) error {
	gen := video.AnalysisGeneration
	no := false
	classified, err := g.events.List(dbctx.Context{Ctx: ctx}, repos.EventFilter{
		VideoID:     video.ID,
		Generation:  &gen,
		IsViolation: &no,
	})
	if err != nil {
		return fmt.Errorf("load classified events: %w", err)
	}
	dets, err := g.detector.CheckGuidelines(ctx, video, rules, classified)
	if err != nil {
		return fmt.Errorf("%s check guidelines: %w", g.detector.Name(), err)
	}
	for _, d := range dets {
		d.IsViolation = true
		if d.Severity == "" {
			d.Severity = types.SeverityViolation
		}
		if _, err := persistEvent(ctx, g.events, g.frames, g.objects, video, d); err != nil {
			return err
		}
	}
	g.log.Debug("guideline check done", "video_id", video.ID, "generation", gen, "violations", len(dets), "rules", len(rules))
	return nil
}

// persistEvent writes one event row, links related objects by track id and flags covered frames.
func persistEvent(ctx context.Context, events repos.EventRepo, frames repos.FrameRepo, objects repos.DetectedObjectRepo, video *types.Video, d EventDetection) (*types.Event, error) {
	dbc := dbctx.Context{Ctx: ctx}
	meta := datatypes.JSON([]byte(`{}`))
	if len(d.Metadata) > 0 {
		b, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal event metadata: %w", err)
		}
		meta = datatypes.JSON(b)
	}
	ev := &types.Event{
		ID:                 uuid.New(),
		VideoID:            video.ID,
		Generation:         video.AnalysisGeneration,
		EventType:          d.EventType,
		Title:              d.Title,
		Description:        d.Description,
		Severity:           d.Severity,
		StartTime:          d.StartTime,
		EndTime:            d.EndTime,
		LocationX:          d.LocationX,
		LocationY:          d.LocationY,
		Confidence:         d.Confidence,
		DetectedBy:         d.DetectedBy,
		Metadata:           meta,
		IsViolation:        d.IsViolation,
		GuidelineReference: d.GuidelineReference,
	}
	if d.EndTime != nil {
		span := *d.EndTime - d.StartTime
		ev.Duration = &span
	}
	if _, err := events.Create(dbc, []*types.Event{ev}); err != nil {
		return nil, fmt.Errorf("create event %s: %w", d.EventType, err)
	}
	if len(d.TrackIDs) > 0 && objects != nil {
		related, err := objects.ListByTrackIDs(dbc, video.ID, video.AnalysisGeneration, d.TrackIDs)
		if err != nil {
			return nil, fmt.Errorf("load related objects: %w", err)
		}
		if err := events.AttachObjects(dbc, ev, related); err != nil {
			return nil, fmt.Errorf("link related objects: %w", err)
		}
	}
	if frames != nil {
		end := ev.StartTime
		if ev.EndTime != nil {
			end = *ev.EndTime
		}
		if _, err := frames.MarkHasEventsBetween(dbc, video.ID, video.AnalysisGeneration, ev.StartTime, end); err != nil {
			return nil, fmt.Errorf("flag frames with events: %w", err)
		}
	}
	return ev, nil
}
