package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/logger"
	"crm-sync-platform/internal/models"
	"crm-sync-platform/internal/repositories"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"
)

// FieldMapFile is the layout of the field-map YAML file: target -> entity type -> field -> spec
type FieldMapFile map[string]map[string]models.FieldMap

// FieldMapper resolves the field map for a target and entity type and applies it
// to raw records. Configured maps are overlaid by the field-map file and then by
// active rows of the field_mappings table.
type FieldMapper struct {
	configured map[string]map[string]models.FieldMap
	overrides  repositories.FieldMappingRepository
	logger     *logger.Logger

	mutex    sync.RWMutex
	fromFile FieldMapFile

	cueMutex sync.Mutex
	cue      *cue.Context
}

// NewFieldMapper creates a field mapper and loads sync.field_map_file when set.
// overrides may be nil.
func NewFieldMapper(cfg *config.Config, overrides repositories.FieldMappingRepository, logger *logger.Logger) (*FieldMapper, error) {
	m := &FieldMapper{
		configured: cfg.Sync.FieldMaps,
		overrides:  overrides,
		logger:     logger,
		cue:        cuecontext.New(),
	}

	if cfg.Sync.FieldMapFile != "" {
		if err := m.LoadFile(cfg.Sync.FieldMapFile); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// LoadFile parses a field-map YAML file and replaces the file layer
func (m *FieldMapper) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read field map file %s: %w", path, err)
	}
	// Truncated mid-write files show up as empty
	if len(strings.TrimSpace(string(data))) == 0 {
		return fmt.Errorf("field map file %s is empty", path)
	}

	var parsed FieldMapFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse field map file %s: %w", path, err)
	}

	for target, byType := range parsed {
		for entityType, fieldMap := range byType {
			if err := fieldMap.Validate(); err != nil {
				return fmt.Errorf("field map %s/%s: %w", target, entityType, err)
			}
		}
	}

	m.mutex.Lock()
	m.fromFile = parsed
	m.mutex.Unlock()

	m.logger.WithField("path", path).Info("Loaded field map file")
	return nil
}

// Watch reloads the field-map file whenever it changes, until ctx is done.
// A file that fails to parse leaves the previous maps in place.
func (m *FieldMapper) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create field map watcher: %w", err)
	}

	// Editors replace files on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}
				if err := m.LoadFile(path); err != nil {
					m.logger.WithError(err).Warn("Field map reload failed, keeping previous maps")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.WithError(err).Warn("Field map watcher error")
			}
		}
	}()

	return nil
}

// FieldMapFor returns the effective field map of a target and entity type
func (m *FieldMapper) FieldMapFor(ctx context.Context, target string, entityType models.EntityType) (models.FieldMap, error) {
	fieldMap := models.FieldMap{}
	if byType, ok := m.configured[target]; ok {
		fieldMap = fieldMap.Merge(byType[string(entityType)])
	}

	m.mutex.RLock()
	if byType, ok := m.fromFile[target]; ok {
		fieldMap = fieldMap.Merge(byType[string(entityType)])
	}
	m.mutex.RUnlock()

	if m.overrides != nil {
		rows, err := m.overrides.GetByScope(ctx, target, string(entityType))
		if err != nil {
			return nil, fmt.Errorf("failed to load field mapping overrides: %w", err)
		}
		for _, row := range rows {
			fieldMap[row.TargetField] = row.Spec()
		}
	}

	return fieldMap, nil
}

// Apply builds the mapped data of a raw record. An empty field map passes the
// record through unchanged. Target fields may be dot paths.
func (m *FieldMapper) Apply(fieldMap models.FieldMap, raw models.RawRecord) (models.JSONMap, error) {
	if len(fieldMap) == 0 {
		return models.JSONMap(raw.Clone()), nil
	}

	result := make(map[string]interface{}, len(fieldMap))
	for field, spec := range fieldMap {
		value, err := m.resolve(spec, raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		if value == nil {
			value = spec.Default
		}
		if value == nil {
			continue
		}

		if spec.Transform != "" {
			value, err = applyTransform(value, spec.Transform)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", field, err)
			}
		}

		setNestedValue(result, field, value)
	}

	return models.JSONMap(result), nil
}

func (m *FieldMapper) resolve(spec models.FieldSpec, raw models.RawRecord) (interface{}, error) {
	switch {
	case spec.Source != "":
		return GetNestedValue(raw, spec.Source), nil
	case spec.Expr != "":
		return m.evaluate(spec.Expr, raw)
	default:
		return spec.Constant, nil
	}
}

// evaluate runs a CUE expression with the raw record's fields in scope
func (m *FieldMapper) evaluate(expr string, raw models.RawRecord) (interface{}, error) {
	m.cueMutex.Lock()
	defer m.cueMutex.Unlock()

	scope := m.cue.Encode(map[string]interface{}(raw))
	if err := scope.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode record for expression: %w", err)
	}

	value := m.cue.CompileString(expr, cue.Scope(scope))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("expression %q: %w", expr, err)
	}

	var out interface{}
	if err := value.Decode(&out); err != nil {
		return nil, fmt.Errorf("expression %q: %w", expr, err)
	}
	return out, nil
}

// GetNestedValue reads a dot path such as "items.0.sku"
func GetNestedValue(data map[string]interface{}, path string) interface{} {
	var current interface{} = data

	for _, part := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]interface{}:
			current = v[part]
		case models.RawRecord:
			current = v[part]
		case models.JSONMap:
			current = v[part]
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			current = v[idx]
		default:
			return nil
		}

		if current == nil {
			return nil
		}
	}

	return current
}

func setNestedValue(data map[string]interface{}, path string, value interface{}) {
	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func applyTransform(value interface{}, transform string) (interface{}, error) {
	switch transform {
	case "uppercase":
		return strings.ToUpper(stringify(value)), nil
	case "lowercase":
		return strings.ToLower(stringify(value)), nil
	case "trim":
		return strings.TrimSpace(stringify(value)), nil
	case "string":
		return stringify(value), nil
	case "float":
		return toFloat(value)
	case "int":
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		return int64(f), nil
	case "bool":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			s := strings.ToLower(strings.TrimSpace(v))
			return s == "true" || s == "1" || s == "yes", nil
		default:
			f, err := toFloat(v)
			return err == nil && f != 0, nil
		}
	case "cents_to_dollars":
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		return f / 100, nil
	case "date_iso":
		ts, err := ParseTimestamp(value)
		if err != nil {
			return nil, err
		}
		return ts.Format(time.RFC3339), nil
	case "epoch_millis":
		ts, err := ParseTimestamp(value)
		if err != nil {
			return nil, err
		}
		return ts.UnixMilli(), nil
	default:
		return nil, fmt.Errorf("unknown transform %q", transform)
	}
}
