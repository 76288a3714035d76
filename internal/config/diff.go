package config

import (
	"encoding/json"
	"reflect"
	"sort"

	logx "turboprint/pkg/logx"
)

// SummarizeChange lists what differs between two configs: changed sections
// plus safe fields for logging. Secrets (tokens, passwords) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field

	added, removed, modified := diffKeys(oldCfg.Handlers, newCfg.Handlers)
	if len(added)+len(removed)+len(modified) > 0 {
		changed = append(changed, "handlers")
		attrs = append(attrs,
			logx.Any("handlers.added", added),
			logx.Any("handlers.removed", removed),
			logx.Any("handlers.changed", modified),
		)
	}
	added, removed, modified = diffKeys(oldCfg.Loggers, newCfg.Loggers)
	if len(added)+len(removed)+len(modified) > 0 {
		changed = append(changed, "loggers")
		attrs = append(attrs,
			logx.Any("loggers.added", added),
			logx.Any("loggers.removed", removed),
			logx.Any("loggers.changed", modified),
		)
	}
	if !reflect.DeepEqual(oldCfg.Formatters, newCfg.Formatters) {
		changed = append(changed, "formatters")
	}
	if !reflect.DeepEqual(oldCfg.Filters, newCfg.Filters) {
		changed = append(changed, "filters")
	}
	if !reflect.DeepEqual(oldCfg.Middlewares, newCfg.Middlewares) {
		changed = append(changed, "middlewares")
	}
	if oldCfg.Viewer != newCfg.Viewer {
		changed = append(changed, "viewer")
		attrs = append(attrs,
			logx.Bool("viewer.enabled", newCfg.Viewer.Enabled),
			logx.String("viewer.address", newCfg.Viewer.Address),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if oldCfg.Diagnostics != newCfg.Diagnostics {
		changed = append(changed, "diagnostics")
	}
	return changed, attrs
}

func diffKeys[V any](a, b map[string]V) (added, removed, modified []string) {
	for k, bv := range b {
		av, ok := a[k]
		if !ok {
			added = append(added, k)
			continue
		}
		if !sameJSON(av, bv) {
			modified = append(modified, k)
		}
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			removed = append(removed, k)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(modified)
	return added, removed, modified
}

func sameJSON(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(ab) == string(bb)
}
