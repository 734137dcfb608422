package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

type ActionType string

const (
	ActionInitialize  ActionType = "INITIALIZE"
	ActionUpdateField ActionType = "UPDATE_FIELD"
	ActionUpdateSlug  ActionType = "UPDATE_SLUG"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrUnknownField  = errors.New("unknown field")
)

// Action is one editor intent. Which fields are used depends on Type:
// INITIALIZE reads State, UPDATE_FIELD reads Field and Value, UPDATE_SLUG
// reads Slug and Manual.
type Action struct {
	Type   ActionType      `json:"type"`
	State  *State          `json:"state,omitempty"`
	Field  string          `json:"field,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Slug   string          `json:"slug,omitempty"`
	Manual bool            `json:"isManual,omitempty"`
}

func Initialize(s State) Action {
	return Action{Type: ActionInitialize, State: &s}
}

// UpdateField builds an UPDATE_FIELD action, encoding v as the new value.
// A nil v clears the field.
func UpdateField(field string, v any) (Action, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Action{}, fmt.Errorf("failed to encode value for %s: %w", field, err)
	}
	return Action{Type: ActionUpdateField, Field: field, Value: raw}, nil
}

func UpdateSlug(slug string, manual bool) Action {
	return Action{Type: ActionUpdateSlug, Slug: slug, Manual: manual}
}

// fields maps the wire name of every editable field to its location.
// Identity fields and the slug are not editable through UPDATE_FIELD.
var fields = map[string]func(*State) any{
	"title":       func(s *State) any { return &s.Title },
	"score":       func(s *State) any { return &s.Score },
	"verdict":     func(s *State) any { return &s.Verdict },
	"pros":        func(s *State) any { return &s.Pros },
	"cons":        func(s *State) any { return &s.Cons },
	"game":        func(s *State) any { return &s.Game },
	"tags":        func(s *State) any { return &s.Tags },
	"authors":     func(s *State) any { return &s.Authors },
	"reporters":   func(s *State) any { return &s.Reporters },
	"designers":   func(s *State) any { return &s.Designers },
	"mainImage":   func(s *State) any { return &s.MainImage },
	"publishedAt": func(s *State) any { return &s.PublishedAt },
	"releaseDate": func(s *State) any { return &s.ReleaseDate },
	"platforms":   func(s *State) any { return &s.Platforms },
	"synopsis":    func(s *State) any { return &s.Synopsis },
}

// IsField reports whether name can be set with UPDATE_FIELD.
func IsField(name string) bool {
	_, ok := fields[name]
	return ok
}

// Reduce applies a to s and returns the next state. It never mutates s.
func Reduce(s State, a Action) (State, error) {
	switch a.Type {
	case ActionInitialize:
		if a.State == nil {
			return s, fmt.Errorf("%s without state", a.Type)
		}
		next := *a.State
		next.IsSlugManual = next.Slug != ""
		return next, nil

	case ActionUpdateField:
		loc, ok := fields[a.Field]
		if !ok {
			return s, fmt.Errorf("%w: %q", ErrUnknownField, a.Field)
		}
		next := s
		ptr := loc(&next)
		if len(a.Value) == 0 || string(a.Value) == "null" {
			reflect.ValueOf(ptr).Elem().SetZero()
		} else {
			// decode into a fresh value so slices are replaced, never merged
			fresh := reflect.New(reflect.TypeOf(ptr).Elem())
			if err := json.Unmarshal(a.Value, fresh.Interface()); err != nil {
				return s, fmt.Errorf("invalid value for %s: %w", a.Field, err)
			}
			reflect.ValueOf(ptr).Elem().Set(fresh.Elem())
		}
		if a.Field == "title" && !next.IsSlugManual {
			next.Slug = Slugify(next.Title)
		}
		return next, nil

	case ActionUpdateSlug:
		next := s
		next.Slug = Slugify(a.Slug)
		next.IsSlugManual = a.Manual
		return next, nil

	default:
		return s, fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}
}
