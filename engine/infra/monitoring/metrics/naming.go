package metrics

import "strings"

const Prefix = "idc_"

// MetricName prefixes name with the idc namespace unless it already has it.
func MetricName(name string) string {
	if strings.HasPrefix(name, Prefix) {
		return name
	}
	return Prefix + name
}

// MetricNameWithSubsystem builds idc_<subsystem>_<name>.
func MetricNameWithSubsystem(subsystem, name string) string {
	subsystem = strings.Trim(subsystem, "_")
	if subsystem == "" {
		return MetricName(name)
	}
	if name == "" {
		return Prefix + subsystem
	}
	return Prefix + subsystem + "_" + strings.TrimPrefix(name, Prefix)
}
