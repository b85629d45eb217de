package synth

import "fmt"

// FromOptions builds a device from a loosely typed options map as found in
// YAML configuration. Recognised keys:
//
//	signal:    "silence" (default), "tone" or "constant"
//	frequency: tone frequency in Hz (default 440)
//	amplitude: tone amplitude relative to full scale, 0 to 1 (default 0.5)
//	value:     24-bit sample for the constant signal, within ±MaxAmplitude
//	realtime:  pace reads at the sample rate (default true)
func FromOptions(opts map[string]any) (*Device, error) {
	o := []Option{WithRealtime(true)}

	switch sig := optString(opts, "signal"); sig {
	case "", "silence":
	case "tone":
		amp := optFloat(opts, "amplitude", 0.5)
		if amp < 0 || amp > 1 {
			return nil, fmt.Errorf("synth: amplitude %g is outside [0, 1]", amp)
		}
		o = append(o, WithGenerator(Tone(optFloat(opts, "frequency", 440), amp)))
	case "constant":
		v := optFloat(opts, "value", 0)
		if v < -MaxAmplitude || v > MaxAmplitude {
			return nil, fmt.Errorf("synth: constant value %g is outside the 24-bit range ±%d", v, MaxAmplitude)
		}
		o = append(o, WithGenerator(Constant(int32(v))))
	default:
		return nil, fmt.Errorf("synth: unknown signal %q", sig)
	}
	if rt, ok := opts["realtime"].(bool); ok {
		o = append(o, WithRealtime(rt))
	}
	return New(o...), nil
}

func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat accepts any numeric YAML scalar.
func optFloat(opts map[string]any, key string, def float64) float64 {
	switch v := opts[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	default:
		return def
	}
}
