package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/logger"
	"crm-sync-platform/internal/models"
)

// ExpandedTimeLayout is the format of timezone-expanded datetime fields
const ExpandedTimeLayout = "2006-01-02T15:04:05.000000-07:00"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

type timezoneConversion struct {
	suffix   string
	location *time.Location
}

// ValueCoercer turns raw CRM property values into synchronization-ready values
// using the property's metadata.
type ValueCoercer struct {
	resolver    *ReferenceResolver
	client      CRMClient
	conversions []timezoneConversion
	logger      *logger.Logger
}

// NewValueCoercer creates a new value coercer. Unknown conversion zones are skipped.
func NewValueCoercer(resolver *ReferenceResolver, client CRMClient, cfg *config.Config, logger *logger.Logger) *ValueCoercer {
	conversions := make([]timezoneConversion, 0, len(cfg.Sync.TimezoneConversions))
	for suffix, zone := range cfg.Sync.TimezoneConversions {
		location, err := time.LoadLocation(zone)
		if err != nil {
			logger.WithError(err).WithField("timezone", zone).Warn("Skipping unknown timezone conversion")
			continue
		}
		conversions = append(conversions, timezoneConversion{suffix: suffix, location: location})
	}
	sort.Slice(conversions, func(i, j int) bool { return conversions[i].suffix < conversions[j].suffix })

	return &ValueCoercer{
		resolver:    resolver,
		client:      client,
		conversions: conversions,
		logger:      logger,
	}
}

// Coerce applies the first matching rule: nil passthrough, checkbox labels,
// enumeration label, number, owner display name, company name, raw value.
func (vc *ValueCoercer) Coerce(ctx context.Context, def *models.PropertyDefinition, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	if def == nil {
		return raw, nil
	}
	if def.OptionsMapping == nil && def.HasOptions() {
		def.BuildOptionsMapping()
	}

	switch {
	case def.FieldType == models.FieldTypeCheckbox && def.HasOptions():
		tokens := strings.Split(stringify(raw), ";")
		for i, token := range tokens {
			if label, ok := def.OptionsMapping[token]; ok {
				tokens[i] = label
			}
		}
		return strings.Join(tokens, ";"), nil

	case def.Type == models.PropertyTypeEnumeration && def.HasOptions():
		if label, ok := def.OptionsMapping[stringify(raw)]; ok {
			return label, nil
		}
		return raw, nil

	case def.Type == models.PropertyTypeNumber && !isEmpty(raw):
		number, err := toFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", def.Name, err)
		}
		return number, nil

	case def.Reference() == models.ReferenceOwner:
		if isEmpty(raw) || vc.resolver == nil {
			return raw, nil
		}
		name, ok, err := vc.resolver.OwnerDisplayName(ctx, stringify(raw))
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", def.Name, err)
		}
		if !ok {
			return raw, nil
		}
		return name, nil

	case def.Reference() == models.ReferenceCompany:
		if isEmpty(raw) {
			return nil, nil
		}
		return vc.companyName(ctx, stringify(raw))
	}

	return raw, nil
}

// ExpandTimezones derives "<name>_<suffix>" values of a datetime property in each
// configured zone. Values without an offset are read as UTC.
func (vc *ValueCoercer) ExpandTimezones(name string, def *models.PropertyDefinition, raw interface{}) map[string]interface{} {
	if def == nil || def.Type != models.PropertyTypeDateTime || len(vc.conversions) == 0 || isEmpty(raw) {
		return nil
	}

	ts, err := ParseTimestamp(raw)
	if err != nil {
		vc.logger.WithError(err).WithField("property", name).Debug("Skipping timezone expansion")
		return nil
	}

	expanded := make(map[string]interface{}, len(vc.conversions))
	for _, conversion := range vc.conversions {
		expanded[name+"_"+conversion.suffix] = ts.In(conversion.location).Format(ExpandedTimeLayout)
	}
	return expanded
}

// CoerceProperties coerces every property with a known definition and adds its
// timezone expansions. Properties without a definition pass through.
func (vc *ValueCoercer) CoerceProperties(ctx context.Context, defs map[string]*models.PropertyDefinition, properties map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(properties))
	for name, raw := range properties {
		def, ok := defs[name]
		if !ok {
			out[name] = raw
			continue
		}

		value, err := vc.Coerce(ctx, def, raw)
		if err != nil {
			return nil, err
		}
		out[name] = value

		for derived, v := range vc.ExpandTimezones(name, def, raw) {
			out[derived] = v
		}
	}
	return out, nil
}

func (vc *ValueCoercer) companyName(ctx context.Context, id string) (interface{}, error) {
	company, err := vc.client.GetObject(ctx, models.ObjectCompanies, id, "", []string{"name"})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve company %s: %w", id, err)
	}
	if company == nil {
		return nil, nil
	}
	if name, ok := company.Properties["name"]; ok {
		return name, nil
	}
	return nil, nil
}

// ParseTimestamp reads RFC3339 strings, offset-less datetimes (as UTC), dates and
// epoch milliseconds into a UTC time.
func ParseTimestamp(v interface{}) (time.Time, error) {
	switch value := v.(type) {
	case time.Time:
		return value.UTC(), nil
	case *time.Time:
		if value == nil {
			return time.Time{}, errors.New("nil timestamp")
		}
		return value.UTC(), nil
	case float64:
		return time.UnixMilli(int64(value)).UTC(), nil
	case int64:
		return time.UnixMilli(value).UTC(), nil
	case int:
		return time.UnixMilli(int64(value)).UTC(), nil
	case json.Number:
		millis, err := value.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid epoch timestamp %q: %w", value, err)
		}
		return time.UnixMilli(millis).UTC(), nil
	case string:
		s := strings.TrimSpace(value)
		if s == "" {
			return time.Time{}, errors.New("empty timestamp")
		}
		if millis, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) > 8 {
			return time.UnixMilli(millis).UTC(), nil
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func stringify(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	default:
		return fmt.Sprint(value)
	}
}

func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func toFloat(v interface{}) (float64, error) {
	switch value := v.(type) {
	case float64:
		return value, nil
	case float32:
		return float64(value), nil
	case int:
		return float64(value), nil
	case int64:
		return float64(value), nil
	case json.Number:
		return value.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", value)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("invalid number of type %T", v)
	}
}
