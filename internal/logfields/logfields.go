package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyStage      = "stage"
	KeyRegistry   = "registry"
	KeyHook       = "hook"
	KeyGroup      = "group"
	KeyPlugin     = "plugin"
	KeyUploader   = "uploader"
	KeyCacheKey   = "cache_key"
	KeyPath       = "path"
	KeyFile       = "file"
	KeyURL        = "url"
	KeyName       = "name"
	KeyCount      = "count"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Registry(name string) slog.Attr  { return slog.String(KeyRegistry, name) }
func Hook(name string) slog.Attr      { return slog.String(KeyHook, name) }
func Group(name string) slog.Attr     { return slog.String(KeyGroup, name) }
func Plugin(name string) slog.Attr    { return slog.String(KeyPlugin, name) }
func Uploader(name string) slog.Attr  { return slog.String(KeyUploader, name) }
func CacheKey(key string) slog.Attr   { return slog.String(KeyCacheKey, key) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func File(f string) slog.Attr         { return slog.String(KeyFile, f) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Name(n string) slog.Attr         { return slog.String(KeyName, n) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
