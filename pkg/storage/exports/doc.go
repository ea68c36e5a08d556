// Package exports keeps audit export descriptors where every API replica can
// find them. RedisRegistry stores each descriptor under audit:export:<id> with
// a TTL ending at the export's expiry. The single-process registry is
// audit.MemoryExportRegistry.
package exports
