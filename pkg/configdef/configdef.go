package configdef

import (
	"errors"
	"fmt"

	"gopkg.in/dealancer/validate.v2"
)

const (
	KindPublisher = "publisher"
	KindScreen    = "screen"
)

type Device struct {
	Title         string  `json:"title" validate:"empty=false"`
	Kind          string  `json:"kind" validate:"one_of=publisher,screen"`
	PublisherID   string  `json:"publisher_id"`
	PublisherName string  `json:"publisher_name"`
	ResumeByName  bool    `json:"resume_by_name"`
	TargetFPS     float64 `json:"target_fps" validate:"gte=0 & lte=240"`
	FlipVertical  bool    `json:"flip_vertical"`
	Disabled      bool    `json:"disabled"`
}

type TestPattern struct {
	ID     string `json:"id" validate:"empty=false"`
	Name   string `json:"name"`
	Width  int    `json:"width" validate:"gte=1 & lte=7680"`
	Height int    `json:"height" validate:"gte=1 & lte=4320"`
	FPS    int    `json:"fps" validate:"gte=1 & lte=120"`
}

type Values struct {
	Debug                bool          `json:"debug"`
	Backend              string        `json:"backend" validate:"empty=true | one_of=software,opencv"`
	StatsIntervalSeconds int           `json:"stats_interval_seconds" validate:"gte=0"`
	Devices              []Device      `json:"devices"`
	TestPatterns         []TestPattern `json:"test_patterns"`
}

func (v Values) RunValidate() error {
	if err := validate.Validate(&v); err != nil {
		return err
	}
	return v.Validate()
}

func (v Values) Validate() error {
	const validationErrorHeader = "validation failed: %w"
	if hasDupDeviceTitles(v.Devices) {
		return fmt.Errorf(validationErrorHeader, errors.New("device titles must be unique"))
	}
	for _, dev := range v.Devices {
		if dev.Kind == KindPublisher && len(dev.PublisherID) == 0 {
			return fmt.Errorf(validationErrorHeader, fmt.Errorf("publisher device [%s] missing publisher_id", dev.Title))
		}
	}
	if hasDupPatternIDs(v.TestPatterns) {
		return fmt.Errorf(validationErrorHeader, errors.New("test pattern ids must be unique"))
	}
	return nil
}

func hasDupDeviceTitles(devices []Device) bool {
	seen := map[string]struct{}{}
	for _, dev := range devices {
		if _, ok := seen[dev.Title]; ok {
			return true
		}
		seen[dev.Title] = struct{}{}
	}
	return false
}

func hasDupPatternIDs(patterns []TestPattern) bool {
	seen := map[string]struct{}{}
	for _, p := range patterns {
		if _, ok := seen[p.ID]; ok {
			return true
		}
		seen[p.ID] = struct{}{}
	}
	return false
}
