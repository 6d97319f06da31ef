// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	ErrUnknownCategory = errors.New("unknown equipment category")
	ErrNotFound        = errors.New("equipment item not found")
)

// Equipment categories served by the CRUD API
var Categories = []string{"cameras", "telescopes", "observatories", "filterwheels"}

const defaultsFileName = "default.json"

// A free-form equipment entry; every entry carries a unique "name" key
type Item map[string]interface{}

// Field name to type tag ("str", "int", "float", "bool") from the
// category's *schema.json sidecar
type Schema map[string]string

// CRUD store over the per-category equipment JSON files. Files are
// read-modify-write under a single mutex; readers get copies
type Store struct {
	mu  sync.Mutex
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func validCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

func (s *Store) itemsPath(category string) string {
	return filepath.Join(s.dir, category+".json")
}

func (s *Store) schemaPath(category string) string {
	return filepath.Join(s.dir, category+"schema.json")
}

// Lists all entries of the category, empty when the file does not exist
func (s *Store) List(category string) ([]Item, error) {
	if !validCategory(category) {
		return nil, ErrUnknownCategory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadItems(category)
}

func (s *Store) loadItems(category string) ([]Item, error) {
	data, err := os.ReadFile(s.itemsPath(category))
	if os.IsNotExist(err) {
		return []Item{}, nil
	}
	if err != nil {
		return nil, err
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Replaces all entries of the category after validating each against the
// category schema
func (s *Store) Put(category string, items []Item) error {
	if !validCategory(category) {
		return ErrUnknownCategory
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	schema, err := s.loadSchema(category)
	if err != nil {
		return err
	}
	for i, item := range items {
		if err := validate(item, schema); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	data, err := json.MarshalIndent(items, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(s.itemsPath(category), data, 0644)
}

// Returns the category's field schema, empty when no sidecar exists
func (s *Store) Schema(category string) (Schema, error) {
	if !validCategory(category) {
		return nil, ErrUnknownCategory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSchema(category)
}

func (s *Store) loadSchema(category string) (Schema, error) {
	data, err := os.ReadFile(s.schemaPath(category))
	if os.IsNotExist(err) {
		return Schema{}, nil
	}
	if err != nil {
		return nil, err
	}
	var schema Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// Checks the item's fields against the schema type tags. Fields absent
// from the schema pass unchecked; schema fields may be omitted
func validate(item Item, schema Schema) error {
	if name, ok := item["name"].(string); !ok || name == "" {
		return errors.New("missing name")
	}
	for field, typ := range schema {
		v, ok := item[field]
		if !ok {
			continue
		}
		var match bool
		switch typ {
		case "str":
			_, match = v.(string)
		case "bool":
			_, match = v.(bool)
		case "int":
			f, isNum := v.(float64)
			match = isNum && f == float64(int64(f))
		case "float":
			_, match = v.(float64)
		default:
			return fmt.Errorf("field %q: unknown schema type %q", field, typ)
		}
		if !match {
			return fmt.Errorf("field %q: expected %s, got %T", field, typ, v)
		}
	}
	return nil
}

// Returns the currently selected entry of the category per default.json
func (s *Store) Current(category string) (Item, error) {
	if !validCategory(category) {
		return nil, ErrUnknownCategory
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	defaults, err := s.loadDefaults()
	if err != nil {
		return nil, err
	}
	name, ok := defaults[category]
	if !ok {
		return nil, ErrNotFound
	}
	items, err := s.loadItems(category)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item["name"] == name {
			return item, nil
		}
	}
	return nil, ErrNotFound
}

// Selects the named entry as the category's current one
func (s *Store) SetCurrent(category, name string) error {
	if !validCategory(category) {
		return ErrUnknownCategory
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadItems(category)
	if err != nil {
		return err
	}
	found := false
	for _, item := range items {
		if item["name"] == name {
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}

	defaults, err := s.loadDefaults()
	if err != nil {
		return err
	}
	defaults[category] = name
	data, err := json.MarshalIndent(defaults, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, defaultsFileName), data, 0644)
}

func (s *Store) loadDefaults() (map[string]string, error) {
	defaults := map[string]string{}
	data, err := os.ReadFile(filepath.Join(s.dir, defaultsFileName))
	if os.IsNotExist(err) {
		return defaults, nil
	}
	if err != nil {
		return nil, err
	}
	return defaults, json.Unmarshal(data, &defaults)
}
