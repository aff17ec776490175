// Package capability parses vendor-neutral "exposes" declarations (the
// Zigbee2MQTT-style capability format) into CapabilityDescriptor maps
// (§4.4). Unknown declaration shapes are skipped and counted, never
// fatal.
package capability

import (
	"strings"
	"unicode"

	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

// explicit lookup table, checked before any heuristic conversion - order 1
// of the mapping precedence (explicit table > camelCase > hyphen/space
// normalisation > collapse underscores).
var friendlyNameOverrides = map[string]string{
	"smartBulbMode":   "smart_bulb_mode",
	"autoTimerOff":    "auto_off_timer",
	"led_effect":      "led_notifications",
	"ledEffect":       "led_notifications",
	"ledWhenOn":       "led_when_on",
	"ledWhenOff":      "led_when_off",
	"LEDWhenOn":       "led_when_on",
	"LEDWhenOff":      "led_when_off",
	"powerOnBehavior": "power_on_behavior",
	"localProtection": "local_protection",
	"remoteProtection": "remote_protection",
}

var advancedKeywords = []string{"effect", "transition", "calibration", "sensitivity", "advanced", "scene"}
var mediumKeywords = []string{"timer", "delay", "threshold", "duration", "interval", "timeout"}

// Result is the outcome of a Parse call: the resolved descriptors plus a
// count of declarations that were skipped because their shape was
// unrecognised.
type Result struct {
	Capabilities map[string]model.CapabilityDescriptor
	Skipped      int
}

// Parse converts a raw "exposes" array (already JSON-decoded into
// []map[string]any, e.g. via encoding/json or gojq) into a friendly-name
// keyed capability map. Declarations whose "type" field is missing or
// unrecognised are skipped and counted rather than aborting the parse.
func Parse(exposes []any) Result {
	result := Result{Capabilities: map[string]model.CapabilityDescriptor{}}
	if len(exposes) == 0 {
		return result
	}

	for _, raw := range exposes {
		expose, ok := raw.(map[string]any)
		if !ok {
			result.Skipped++
			continue
		}
		exposeType, _ := expose["type"].(string)
		if exposeType == "" {
			result.Skipped++
			continue
		}

		switch exposeType {
		case "light":
			name, desc := parseLightControl(expose)
			result.Capabilities[name] = desc
		case "switch":
			name, desc := parseSwitchControl(expose)
			result.Capabilities[name] = desc
		case "climate":
			name, desc := parseClimateControl(expose)
			result.Capabilities[name] = desc
		case "enum":
			if name, desc, ok := parseEnumOption(expose); ok {
				result.Capabilities[name] = desc
			} else {
				result.Skipped++
			}
		case "numeric":
			if name, desc, ok := parseNumericOption(expose); ok {
				result.Capabilities[name] = desc
			} else {
				result.Skipped++
			}
		case "binary":
			if name, desc, ok := parseBinaryOption(expose); ok {
				result.Capabilities[name] = desc
			} else {
				result.Skipped++
			}
		default:
			result.Skipped++
		}
	}
	return result
}

func stringOr(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}

func parseLightControl(expose map[string]any) (string, model.CapabilityDescriptor) {
	features := extractFeatureNames(expose["features"])
	complexity := model.ComplexityEasy
	for _, f := range features {
		if f == "color_xy" || f == "color_hs" {
			complexity = model.ComplexityMedium
			break
		}
	}
	return "light_control", model.CapabilityDescriptor{
		Kind:        model.CapabilityComposite,
		MQTTName:    "light",
		Description: stringOr(expose, "description", "Basic light control"),
		Complexity:  complexity,
		Features:    features,
	}
}

func parseSwitchControl(expose map[string]any) (string, model.CapabilityDescriptor) {
	return "switch_control", model.CapabilityDescriptor{
		Kind:        model.CapabilityBinary,
		MQTTName:    "switch",
		Description: stringOr(expose, "description", "Basic switch on/off"),
		Complexity:  model.ComplexityEasy,
	}
}

func parseClimateControl(expose map[string]any) (string, model.CapabilityDescriptor) {
	return "climate_control", model.CapabilityDescriptor{
		Kind:        model.CapabilityComposite,
		MQTTName:    "climate",
		Description: stringOr(expose, "description", "Temperature and climate control"),
		Complexity:  model.ComplexityMedium,
		Features:    extractFeatureNames(expose["features"]),
	}
}

func extractFeatureNames(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(list))
	for _, item := range list {
		if feature, ok := item.(map[string]any); ok {
			if name, ok := feature["name"].(string); ok && name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

func parseEnumOption(expose map[string]any) (string, model.CapabilityDescriptor, bool) {
	mqttName, _ := expose["name"].(string)
	if mqttName == "" {
		return "", model.CapabilityDescriptor{}, false
	}
	var values []string
	if raw, ok := expose["values"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				values = append(values, s)
			}
		}
	}
	return MapMQTTToFriendly(mqttName), model.CapabilityDescriptor{
		Kind:        model.CapabilityEnum,
		MQTTName:    mqttName,
		Values:      values,
		Description: stringOr(expose, "description", ""),
		Complexity:  AssessComplexity(mqttName),
	}, true
}

func parseNumericOption(expose map[string]any) (string, model.CapabilityDescriptor, bool) {
	mqttName, _ := expose["name"].(string)
	if mqttName == "" {
		return "", model.CapabilityDescriptor{}, false
	}
	desc := model.CapabilityDescriptor{
		Kind:        model.CapabilityNumeric,
		MQTTName:    mqttName,
		Unit:        stringOr(expose, "unit", ""),
		Description: stringOr(expose, "description", ""),
		Complexity:  AssessComplexity(mqttName),
	}
	if v, ok := toFloat(expose["value_min"]); ok {
		desc.Min = &v
	}
	if v, ok := toFloat(expose["value_max"]); ok {
		desc.Max = &v
	}
	return MapMQTTToFriendly(mqttName), desc, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func parseBinaryOption(expose map[string]any) (string, model.CapabilityDescriptor, bool) {
	mqttName, _ := expose["name"].(string)
	if mqttName == "" {
		return "", model.CapabilityDescriptor{}, false
	}
	return MapMQTTToFriendly(mqttName), model.CapabilityDescriptor{
		Kind:        model.CapabilityBinary,
		MQTTName:    mqttName,
		ValueOn:     stringOr(expose, "value_on", ""),
		ValueOff:    stringOr(expose, "value_off", ""),
		Description: stringOr(expose, "description", ""),
		Complexity:  model.ComplexityEasy,
	}, true
}

// MapMQTTToFriendly converts a vendor MQTT name to a friendly snake_case
// name, applying, in order: the explicit lookup table, camelCase ->
// snake_case conversion, hyphen/space normalisation, then underscore
// collapsing.
func MapMQTTToFriendly(mqttName string) string {
	if friendly, ok := friendlyNameOverrides[mqttName]; ok {
		return friendly
	}

	var b strings.Builder
	runes := []rune(mqttName)
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	snake := b.String()
	snake = strings.ReplaceAll(snake, " ", "_")
	snake = strings.ReplaceAll(snake, "-", "_")
	for strings.Contains(snake, "__") {
		snake = strings.ReplaceAll(snake, "__", "_")
	}
	return snake
}

// AssessComplexity classifies a capability's configuration complexity from
// keywords in its MQTT name (§4.4).
func AssessComplexity(mqttName string) model.Complexity {
	lower := strings.ToLower(mqttName)
	for _, kw := range advancedKeywords {
		if strings.Contains(lower, kw) {
			return model.ComplexityAdvanced
		}
	}
	for _, kw := range mediumKeywords {
		if strings.Contains(lower, kw) {
			return model.ComplexityMedium
		}
	}
	return model.ComplexityEasy
}
