// Copyright 2023 Rivian Automotive, Inc.
// Licensed under the Apache License, Version 2.0 (the “License”);
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an “AS IS” BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package paimon contains the resources required to interact with a versioned lakehouse table.
package paimon

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
	"gopkg.in/yaml.v3"
)

// ConfigKey represents a table option.
type ConfigKey string

var (
	// ErrConfigValidation is returned when a table option cannot be validated.
	ErrConfigValidation error = errors.New("error validating table options")
)

const (
	// BucketConfigKey is the number of buckets per partition. -1 selects dynamic bucketing.
	BucketConfigKey ConfigKey = "bucket"
	// CommitStrictModeLastSafeSnapshotConfigKey enables strict mode. -1 means the first commit is not checked.
	CommitStrictModeLastSafeSnapshotConfigKey ConfigKey = "commit.strict-mode.last-safe-snapshot"
	// CommitCallbacksConfigKey is a comma separated list of registered commit callback names.
	CommitCallbacksConfigKey ConfigKey = "commit.callbacks"
	// CommitMaxRetriesConfigKey bounds the number of commit attempts.
	CommitMaxRetriesConfigKey ConfigKey = "commit.max-retries"
	// CommitMinRetryWaitConfigKey is the first wait between commit attempts.
	CommitMinRetryWaitConfigKey ConfigKey = "commit.min-retry-wait"
	// CommitMaxRetryWaitConfigKey caps the wait between commit attempts.
	CommitMaxRetryWaitConfigKey ConfigKey = "commit.max-retry-wait"
	// WriteOnlyConfigKey disables expiration after commits.
	WriteOnlyConfigKey ConfigKey = "write-only"
	// SnapshotNumRetainedMinConfigKey is the minimum number of snapshots kept by expiration.
	SnapshotNumRetainedMinConfigKey ConfigKey = "snapshot.num-retained.min"
	// SnapshotNumRetainedMaxConfigKey is the maximum number of snapshots kept by expiration.
	SnapshotNumRetainedMaxConfigKey ConfigKey = "snapshot.num-retained.max"
	// SnapshotTimeRetainedConfigKey is the age after which snapshots may be expired.
	SnapshotTimeRetainedConfigKey ConfigKey = "snapshot.time-retained"
	// SnapshotExpireLimitConfigKey is the maximum number of snapshots expired in one run.
	SnapshotExpireLimitConfigKey ConfigKey = "snapshot.expire.limit"
	// ChangelogProducerConfigKey selects how changelog files are produced.
	ChangelogProducerConfigKey ConfigKey = "changelog-producer"
	// ScanBoundedWatermarkConfigKey ends a streaming read once a snapshot watermark passes it.
	ScanBoundedWatermarkConfigKey ConfigKey = "scan.bounded.watermark"
	// StreamingReadDelayConfigKey delays the visibility of new snapshots to streaming reads.
	StreamingReadDelayConfigKey ConfigKey = "streaming-read.delay"
	// StreamingReadOverwriteConfigKey makes streaming reads emit the changes of OVERWRITE snapshots.
	StreamingReadOverwriteConfigKey ConfigKey = "streaming-read-overwrite"
	// ConsumerIDConfigKey names the consumer whose progress is recorded by streaming reads.
	ConsumerIDConfigKey ConfigKey = "consumer.id"
	// ConsumerExpirationTimeConfigKey is the idle time after which consumers are removed.
	ConsumerExpirationTimeConfigKey ConfigKey = "consumer.expiration-time"
	// ConsumerIgnoreProgressConfigKey makes a streaming read ignore the recorded consumer progress.
	ConsumerIgnoreProgressConfigKey ConfigKey = "consumer.ignore-progress"
	// ManifestFormatConfigKey is the encoding of manifest files and lists.
	ManifestFormatConfigKey ConfigKey = "manifest.format"
	// ManifestCompressionConfigKey is the compression codec of manifest files.
	ManifestCompressionConfigKey ConfigKey = "manifest.compression"
	// ManifestTargetFileSizeConfigKey is the size at which manifest files are rolled.
	ManifestTargetFileSizeConfigKey ConfigKey = "manifest.target-file-size"
	// ManifestMergeMinCountConfigKey is the number of small manifest files that triggers a merge.
	ManifestMergeMinCountConfigKey ConfigKey = "manifest.merge-min-count"
	// ScanModeConfigKey is the startup mode of a scan.
	ScanModeConfigKey ConfigKey = "scan.mode"
	// ScanSnapshotIDConfigKey starts a scan from a snapshot.
	ScanSnapshotIDConfigKey ConfigKey = "scan.snapshot-id"
	// ScanTagNameConfigKey starts a scan from a tag.
	ScanTagNameConfigKey ConfigKey = "scan.tag-name"
	// ScanTimestampMillisConfigKey starts a scan from the snapshot committed at or before a time.
	ScanTimestampMillisConfigKey ConfigKey = "scan.timestamp-millis"
	// ScanWatermarkConfigKey starts a scan from the first snapshot whose watermark reaches a value.
	ScanWatermarkConfigKey ConfigKey = "scan.watermark"
	// ScanReadOptimizedConfigKey restricts scans of primary key tables to fully compacted files.
	ScanReadOptimizedConfigKey ConfigKey = "scan.read-optimized"
	// ScanVerifyFilesConfigKey checks that every planned data file exists before a plan is returned.
	ScanVerifyFilesConfigKey ConfigKey = "scan.verify-files"
	// ScanManifestParallelismConfigKey bounds concurrent manifest reads during planning.
	ScanManifestParallelismConfigKey ConfigKey = "scan.manifest.parallelism"
	// StreamScanModeConfigKey selects special streaming read modes.
	StreamScanModeConfigKey ConfigKey = "stream-scan-mode"
	// NumLevelsConfigKey is the number of LSM levels of primary key tables.
	NumLevelsConfigKey ConfigKey = "num-levels"
)

// CallbackParamConfigKey returns the key holding the parameter passed to a named commit callback.
func CallbackParamConfigKey(name string) ConfigKey {
	return ConfigKey(fmt.Sprintf("commit.callback.%s.param", name))
}

// ChangelogProducer determines how changelog files are produced.
type ChangelogProducer string

const (
	ChangelogProducerNone           ChangelogProducer = "NONE"
	ChangelogProducerInput          ChangelogProducer = "INPUT"
	ChangelogProducerLookup         ChangelogProducer = "LOOKUP"
	ChangelogProducerFullCompaction ChangelogProducer = "FULL_COMPACTION"
)

// StartupMode determines where a scan starts.
type StartupMode string

const (
	StartupModeDefault          StartupMode = "DEFAULT"
	StartupModeLatestFull       StartupMode = "LATEST_FULL"
	StartupModeFull             StartupMode = "FULL"
	StartupModeLatest           StartupMode = "LATEST"
	StartupModeCompactedFull    StartupMode = "COMPACTED_FULL"
	StartupModeFromTimestamp    StartupMode = "FROM_TIMESTAMP"
	StartupModeFromSnapshot     StartupMode = "FROM_SNAPSHOT"
	StartupModeFromSnapshotFull StartupMode = "FROM_SNAPSHOT_FULL"
)

// StreamScanMode selects special streaming read modes used by compaction jobs and file monitors.
type StreamScanMode string

const (
	StreamScanModeNone               StreamScanMode = "NONE"
	StreamScanModeCompactBucketTable StreamScanMode = "COMPACT_BUCKET_TABLE"
	StreamScanModeFileMonitor        StreamScanMode = "FILE_MONITOR"
)

// ManifestFormat is the encoding of manifest files.
type ManifestFormat string

const (
	ManifestFormatAvro    ManifestFormat = "avro"
	ManifestFormatParquet ManifestFormat = "parquet"
)

const (
	defaultBucket                  = -1
	defaultCommitMaxRetries        = 10
	defaultCommitMinRetryWait      = 10 * time.Millisecond
	defaultCommitMaxRetryWait      = 10 * time.Second
	defaultSnapshotNumRetainedMin  = 10
	defaultSnapshotNumRetainedMax  = math.MaxInt32
	defaultSnapshotTimeRetained    = time.Hour
	defaultSnapshotExpireLimit     = 10
	defaultManifestCompression     = "deflate"
	defaultManifestTargetFileSize  = 8 << 20
	defaultManifestMergeMinCount   = 30
	defaultScanManifestParallelism = 8
	defaultNumLevels               = 5
)

// Options are the parsed table options.
type Options struct {
	Bucket                     int
	StrictModeLastSafeSnapshot *int64
	CommitCallbacks            []string
	CommitMaxRetries           int
	CommitMinRetryWait         time.Duration
	CommitMaxRetryWait         time.Duration
	WriteOnly                  bool

	SnapshotNumRetainedMin int
	SnapshotNumRetainedMax int
	SnapshotTimeRetained   time.Duration
	SnapshotExpireLimit    int

	ChangelogProducer      ChangelogProducer
	ScanBoundedWatermark   *int64
	StreamingReadDelay     time.Duration
	StreamingReadOverwrite bool

	ConsumerID             string
	ConsumerExpirationTime time.Duration
	ConsumerIgnoreProgress bool

	ManifestFormat         ManifestFormat
	ManifestCompression    string
	ManifestTargetFileSize int64
	ManifestMergeMinCount  int

	ScanMode                StartupMode
	ScanSnapshotID          *int64
	ScanTagName             string
	ScanTimestampMillis     *int64
	ScanWatermark           *int64
	ScanReadOptimized       bool
	ScanVerifyFiles         bool
	ScanManifestParallelism int
	StreamScanMode          StreamScanMode
	NumLevels               int

	// The raw key/value pairs the options were parsed from
	Raw map[string]string
}

// DefaultOptions returns options with every default applied.
func DefaultOptions() *Options {
	o, _ := NewOptions(nil)
	return o
}

// NewOptions parses raw table options, applying defaults for missing keys.
func NewOptions(raw map[string]string) (*Options, error) {
	o := &Options{
		Bucket:                  defaultBucket,
		CommitMaxRetries:        defaultCommitMaxRetries,
		CommitMinRetryWait:      defaultCommitMinRetryWait,
		CommitMaxRetryWait:      defaultCommitMaxRetryWait,
		SnapshotNumRetainedMin:  defaultSnapshotNumRetainedMin,
		SnapshotNumRetainedMax:  defaultSnapshotNumRetainedMax,
		SnapshotTimeRetained:    defaultSnapshotTimeRetained,
		SnapshotExpireLimit:     defaultSnapshotExpireLimit,
		ChangelogProducer:       ChangelogProducerNone,
		ManifestFormat:          ManifestFormatAvro,
		ManifestCompression:     defaultManifestCompression,
		ManifestTargetFileSize:  defaultManifestTargetFileSize,
		ManifestMergeMinCount:   defaultManifestMergeMinCount,
		ScanMode:                StartupModeDefault,
		ScanManifestParallelism: defaultScanManifestParallelism,
		StreamScanMode:          StreamScanModeNone,
		NumLevels:               defaultNumLevels,
		Raw:                     make(map[string]string, len(raw)),
	}
	for k, v := range raw {
		o.Raw[k] = v
	}

	p := optionParser{raw: o.Raw}
	p.int(BucketConfigKey, &o.Bucket)
	p.optionalInt64(CommitStrictModeLastSafeSnapshotConfigKey, &o.StrictModeLastSafeSnapshot)
	p.list(CommitCallbacksConfigKey, &o.CommitCallbacks)
	p.int(CommitMaxRetriesConfigKey, &o.CommitMaxRetries)
	p.duration(CommitMinRetryWaitConfigKey, &o.CommitMinRetryWait)
	p.duration(CommitMaxRetryWaitConfigKey, &o.CommitMaxRetryWait)
	p.bool(WriteOnlyConfigKey, &o.WriteOnly)
	p.int(SnapshotNumRetainedMinConfigKey, &o.SnapshotNumRetainedMin)
	p.int(SnapshotNumRetainedMaxConfigKey, &o.SnapshotNumRetainedMax)
	p.duration(SnapshotTimeRetainedConfigKey, &o.SnapshotTimeRetained)
	p.int(SnapshotExpireLimitConfigKey, &o.SnapshotExpireLimit)
	p.enum(ChangelogProducerConfigKey, (*string)(&o.ChangelogProducer), string(ChangelogProducerNone), string(ChangelogProducerInput), string(ChangelogProducerLookup), string(ChangelogProducerFullCompaction))
	p.optionalInt64(ScanBoundedWatermarkConfigKey, &o.ScanBoundedWatermark)
	p.duration(StreamingReadDelayConfigKey, &o.StreamingReadDelay)
	p.bool(StreamingReadOverwriteConfigKey, &o.StreamingReadOverwrite)
	p.string(ConsumerIDConfigKey, &o.ConsumerID)
	p.duration(ConsumerExpirationTimeConfigKey, &o.ConsumerExpirationTime)
	p.bool(ConsumerIgnoreProgressConfigKey, &o.ConsumerIgnoreProgress)
	p.lowerEnum(ManifestFormatConfigKey, (*string)(&o.ManifestFormat), string(ManifestFormatAvro), string(ManifestFormatParquet))
	p.lowerEnum(ManifestCompressionConfigKey, &o.ManifestCompression, "none", "null", "deflate", "snappy", "zstd", "gzip")
	p.memorySize(ManifestTargetFileSizeConfigKey, &o.ManifestTargetFileSize)
	p.int(ManifestMergeMinCountConfigKey, &o.ManifestMergeMinCount)
	p.enum(ScanModeConfigKey, (*string)(&o.ScanMode), string(StartupModeDefault), string(StartupModeLatestFull), string(StartupModeFull), string(StartupModeLatest), string(StartupModeCompactedFull), string(StartupModeFromTimestamp), string(StartupModeFromSnapshot), string(StartupModeFromSnapshotFull))
	p.optionalInt64(ScanSnapshotIDConfigKey, &o.ScanSnapshotID)
	p.string(ScanTagNameConfigKey, &o.ScanTagName)
	p.optionalInt64(ScanTimestampMillisConfigKey, &o.ScanTimestampMillis)
	p.optionalInt64(ScanWatermarkConfigKey, &o.ScanWatermark)
	p.bool(ScanReadOptimizedConfigKey, &o.ScanReadOptimized)
	p.bool(ScanVerifyFilesConfigKey, &o.ScanVerifyFiles)
	p.int(ScanManifestParallelismConfigKey, &o.ScanManifestParallelism)
	p.enum(StreamScanModeConfigKey, (*string)(&o.StreamScanMode), string(StreamScanModeNone), string(StreamScanModeCompactBucketTable), string(StreamScanModeFileMonitor))
	p.int(NumLevelsConfigKey, &o.NumLevels)

	if p.err != nil {
		return nil, p.err
	}
	if o.SnapshotNumRetainedMin < 1 {
		return nil, errors.Join(ErrConfigValidation, fmt.Errorf("%s must be at least 1", SnapshotNumRetainedMinConfigKey))
	}
	if o.SnapshotNumRetainedMin > o.SnapshotNumRetainedMax {
		return nil, errors.Join(ErrConfigValidation, fmt.Errorf("%s (%d) must not exceed %s (%d)", SnapshotNumRetainedMinConfigKey, o.SnapshotNumRetainedMin, SnapshotNumRetainedMaxConfigKey, o.SnapshotNumRetainedMax))
	}
	if o.CommitMaxRetries < 1 {
		return nil, errors.Join(ErrConfigValidation, fmt.Errorf("%s must be at least 1", CommitMaxRetriesConfigKey))
	}
	if o.ScanManifestParallelism < 1 {
		o.ScanManifestParallelism = 1
	}
	return o, nil
}

// Copy returns options with dynamic overrides applied.
func (o *Options) Copy(overrides map[string]string) (*Options, error) {
	raw := make(map[string]string, len(o.Raw)+len(overrides))
	for k, v := range o.Raw {
		raw[k] = v
	}
	for k, v := range overrides {
		raw[k] = v
	}
	return NewOptions(raw)
}

// StartupMode resolves DEFAULT to the mode implied by the other scan options.
func (o *Options) StartupMode() StartupMode {
	switch o.ScanMode {
	case StartupModeDefault:
		switch {
		case o.ScanTimestampMillis != nil:
			return StartupModeFromTimestamp
		case o.ScanSnapshotID != nil || o.ScanTagName != "" || o.ScanWatermark != nil:
			return StartupModeFromSnapshot
		default:
			return StartupModeLatestFull
		}
	case StartupModeFull:
		return StartupModeLatestFull
	}
	return o.ScanMode
}

// ReadOptionsYAML reads table options from a YAML document of flat key/value pairs.
func ReadOptionsYAML(r io.Reader) (map[string]string, error) {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(ErrConfigValidation, err)
	}
	raw := make(map[string]string, len(doc))
	for k, v := range doc {
		switch value := v.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(value))
			for _, part := range value {
				parts = append(parts, fmt.Sprint(part))
			}
			raw[k] = strings.Join(parts, ",")
		case map[string]any:
			return nil, errors.Join(ErrConfigValidation, fmt.Errorf("option %s must be a scalar", k))
		default:
			raw[k] = fmt.Sprint(value)
		}
	}
	return raw, nil
}

type optionParser struct {
	raw map[string]string
	err error
}

func (p *optionParser) lookup(key ConfigKey) (string, bool) {
	v, ok := p.raw[string(key)]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *optionParser) fail(key ConfigKey, value string, err error) {
	p.err = errors.Join(p.err, ErrConfigValidation, fmt.Errorf("invalid value %q for %s: %w", value, key, err))
}

func (p *optionParser) int(key ConfigKey, dst *int) {
	if v, ok := p.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *optionParser) optionalInt64(key ConfigKey, dst **int64) {
	if v, ok := p.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = &n
	}
}

func (p *optionParser) bool(key ConfigKey, dst *bool) {
	if v, ok := p.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (p *optionParser) string(key ConfigKey, dst *string) {
	if v, ok := p.lookup(key); ok {
		*dst = v
	}
}

func (p *optionParser) list(key ConfigKey, dst *[]string) {
	if v, ok := p.lookup(key); ok {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				*dst = append(*dst, item)
			}
		}
	}
}

func (p *optionParser) duration(key ConfigKey, dst *time.Duration) {
	if v, ok := p.lookup(key); ok {
		d, err := parseInterval(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (p *optionParser) memorySize(key ConfigKey, dst *int64) {
	if v, ok := p.lookup(key); ok {
		n, err := parseMemorySize(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

// enum accepts kebab, snake or camel case spellings of upper case enum values.
func (p *optionParser) enum(key ConfigKey, dst *string, allowed ...string) {
	p.normalizedEnum(key, dst, strcase.ToScreamingSnake, allowed)
}

func (p *optionParser) lowerEnum(key ConfigKey, dst *string, allowed ...string) {
	p.normalizedEnum(key, dst, strcase.ToSnake, allowed)
}

func (p *optionParser) normalizedEnum(key ConfigKey, dst *string, normalize func(string) string, allowed []string) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	n := normalize(v)
	for _, a := range allowed {
		if n == a {
			*dst = n
			return
		}
	}
	p.fail(key, v, fmt.Errorf("expected one of %s", strings.Join(allowed, ", ")))
}

// parseInterval accepts Go durations ("90s"), bare milliseconds ("500"), and
// "[interval] N unit [N unit ...]" forms such as "interval 1 hour" or "10 min".
func parseInterval(input string) (time.Duration, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if d, err := time.ParseDuration(input); err == nil {
		return d, nil
	}
	if ms, err := strconv.ParseInt(input, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}

	components := strings.Fields(strings.TrimPrefix(input, "interval "))
	if len(components) == 0 || len(components)%2 != 0 {
		return 0, ErrConfigValidation
	}
	var total time.Duration
	for i := 0; i < len(components); i += 2 {
		n, err := strconv.ParseInt(components[i], 10, 64)
		if err != nil {
			return 0, errors.Join(ErrConfigValidation, err)
		}
		var unit time.Duration
		switch components[i+1] {
		case "ns", "nanosecond", "nanoseconds":
			unit = time.Nanosecond
		case "us", "microsecond", "microseconds":
			unit = time.Microsecond
		case "ms", "milli", "millis", "millisecond", "milliseconds":
			unit = time.Millisecond
		case "s", "sec", "secs", "second", "seconds":
			unit = time.Second
		case "m", "min", "mins", "minute", "minutes":
			unit = time.Minute
		case "h", "hour", "hours":
			unit = time.Hour
		case "d", "day", "days":
			unit = 24 * time.Hour
		case "week", "weeks":
			unit = 7 * 24 * time.Hour
		default:
			return 0, errors.Join(ErrConfigValidation, fmt.Errorf("unknown time unit %q", components[i+1]))
		}
		total += time.Duration(n) * unit
	}
	return total, nil
}

// parseMemorySize parses sizes such as "8 mb", "128kb" or "1048576".
func parseMemorySize(input string) (int64, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	i := strings.IndexFunc(input, func(r rune) bool { return r < '0' || r > '9' })
	if i == 0 {
		return 0, ErrConfigValidation
	}
	number, unit := input, ""
	if i > 0 {
		number, unit = input[:i], strings.TrimSpace(input[i:])
	}
	n, err := strconv.ParseInt(number, 10, 64)
	if err != nil {
		return 0, errors.Join(ErrConfigValidation, err)
	}
	var multiplier int64
	switch unit {
	case "", "b", "bytes":
		multiplier = 1
	case "k", "kb", "kibibytes":
		multiplier = 1 << 10
	case "m", "mb", "mebibytes":
		multiplier = 1 << 20
	case "g", "gb", "gibibytes":
		multiplier = 1 << 30
	case "t", "tb", "tebibytes":
		multiplier = 1 << 40
	default:
		return 0, errors.Join(ErrConfigValidation, fmt.Errorf("unknown memory unit %q", unit))
	}
	return n * multiplier, nil
}
