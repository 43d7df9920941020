// Package client holds the generation state of a Nexus client session: the
// current parameters, the bounded local history and the favorites set, plus
// the orchestration that drives the backend API from them.
package client

import (
	"slices"
	"time"
)

const (
	MaxHistory = 20
	MinImages  = 1
	MaxImages  = 4
)

const (
	DefaultModel       = "img3"
	DefaultSize        = "1024x1024"
	DefaultAspectRatio = "1:1"
)

// aspectSizes 宽高比到输出尺寸的映射
var aspectSizes = map[string]string{
	"1:1":  "1024x1024",
	"16:9": "1792x1024",
	"9:16": "1024x1792",
}

// HistoryEntry is one generation batch in the local history.
type HistoryEntry struct {
	ID        string    `yaml:"id" json:"id"`
	Prompt    string    `yaml:"prompt" json:"prompt"`
	Model     string    `yaml:"model" json:"model"`
	Size      string    `yaml:"size" json:"size"`
	IsEdit    bool      `yaml:"isEdit,omitempty" json:"isEdit,omitempty"`
	Images    []string  `yaml:"images" json:"images"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
}

type State struct {
	Model       string         `yaml:"model" json:"model"`
	Size        string         `yaml:"size" json:"size"`
	AspectRatio string         `yaml:"aspectRatio" json:"aspectRatio"`
	NumImages   int            `yaml:"numImages" json:"numImages"`
	LastPrompt  string         `yaml:"lastPrompt" json:"lastPrompt"`
	History     []HistoryEntry `yaml:"history" json:"history"`
	Favorites   []string       `yaml:"favorites" json:"favorites"`
}

func DefaultState() State {
	return State{
		Model:       DefaultModel,
		Size:        DefaultSize,
		AspectRatio: DefaultAspectRatio,
		NumImages:   MinImages,
		History:     []HistoryEntry{},
		Favorites:   []string{},
	}
}

// IsFavorite reports whether id is in the favorites set.
func (s State) IsFavorite(id string) bool {
	return slices.Contains(s.Favorites, id)
}

func (s State) clone() State {
	next := s
	next.History = make([]HistoryEntry, len(s.History))
	for i, entry := range s.History {
		entry.Images = slices.Clone(entry.Images)
		next.History[i] = entry
	}
	next.Favorites = slices.Clone(s.Favorites)
	if next.Favorites == nil {
		next.Favorites = []string{}
	}
	return next
}

// Action is a state transition applied by Reduce.
type Action interface {
	apply(State) State
}

type SetModel struct{ Model string }

type SetSize struct{ Size string }

// SetAspectRatio also moves Size to the matching dimensions. Unknown ratios
// keep the current size.
type SetAspectRatio struct{ Ratio string }

// SetNumImages is clamped to [MinImages, MaxImages].
type SetNumImages struct{ N int }

type SetLastPrompt struct{ Prompt string }

// AddToHistory prepends the entry and keeps the newest MaxHistory entries.
type AddToHistory struct{ Entry HistoryEntry }

type ToggleFavorite struct{ ID string }

type ClearHistory struct{}

func (a SetModel) apply(s State) State {
	s.Model = a.Model
	return s
}

func (a SetSize) apply(s State) State {
	s.Size = a.Size
	return s
}

func (a SetAspectRatio) apply(s State) State {
	s.AspectRatio = a.Ratio
	if size, ok := aspectSizes[a.Ratio]; ok {
		s.Size = size
	}
	return s
}

func (a SetNumImages) apply(s State) State {
	s.NumImages = min(max(a.N, MinImages), MaxImages)
	return s
}

func (a SetLastPrompt) apply(s State) State {
	s.LastPrompt = a.Prompt
	return s
}

func (a AddToHistory) apply(s State) State {
	entry := a.Entry
	entry.Images = slices.Clone(entry.Images)
	history := append([]HistoryEntry{entry}, s.History...)
	if len(history) > MaxHistory {
		history = history[:MaxHistory]
	}
	s.History = history
	return s
}

func (a ToggleFavorite) apply(s State) State {
	if idx := slices.Index(s.Favorites, a.ID); idx >= 0 {
		s.Favorites = slices.Delete(s.Favorites, idx, idx+1)
		return s
	}
	s.Favorites = append(s.Favorites, a.ID)
	return s
}

func (ClearHistory) apply(s State) State {
	s.History = []HistoryEntry{}
	return s
}

// Reduce returns the state after applying action. The input state and its
// slices are never modified.
func Reduce(state State, action Action) State {
	next := state.clone()
	if action == nil {
		return next
	}
	return action.apply(next)
}
