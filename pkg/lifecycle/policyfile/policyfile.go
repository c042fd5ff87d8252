package policyfile

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"mercator-hq/ilm/pkg/lifecycle"
)

const day = 24 * time.Hour

// Document is the YAML shape of a policy file.
type Document struct {
	Streams map[string]Entry `yaml:"streams" json:"streams"`
}

// Entry is one stream's retention settings as written by operators.
// Ages accept Go durations plus a "d" suffix ("30d", "1d12h"); sizes accept
// humanized byte counts ("5GiB", "500MB") or plain integers.
type Entry struct {
	RolloverMaxAge  string `yaml:"rollover_max_age" json:"rollover_max_age"`
	RolloverMaxSize string `yaml:"rollover_max_size" json:"rollover_max_size"`
	DeleteMinAge    string `yaml:"delete_min_age" json:"delete_min_age"`
}

// Policy converts the entry into a validated retention policy for stream.
func (e Entry) Policy(stream string) (lifecycle.RetentionPolicy, error) {
	maxAge, err := ParseAge(e.RolloverMaxAge)
	if err != nil {
		return lifecycle.RetentionPolicy{}, fmt.Errorf("rollover_max_age: %w", err)
	}
	maxSize, err := ParseSize(e.RolloverMaxSize)
	if err != nil {
		return lifecycle.RetentionPolicy{}, fmt.Errorf("rollover_max_size: %w", err)
	}
	minAge, err := ParseAge(e.DeleteMinAge)
	if err != nil {
		return lifecycle.RetentionPolicy{}, fmt.Errorf("delete_min_age: %w", err)
	}

	policy := lifecycle.RetentionPolicy{
		Stream:          stream,
		RolloverMaxAge:  maxAge,
		RolloverMaxSize: maxSize,
		DeleteMinAge:    minAge,
	}
	if err := policy.Validate(); err != nil {
		return lifecycle.RetentionPolicy{}, err
	}
	return policy, nil
}

// EntryFor renders a policy back into its file form.
func EntryFor(p lifecycle.RetentionPolicy) Entry {
	return Entry{
		RolloverMaxAge:  FormatAge(p.RolloverMaxAge),
		RolloverMaxSize: FormatSize(p.RolloverMaxSize),
		DeleteMinAge:    FormatAge(p.DeleteMinAge),
	}
}

// LoadError reports every invalid entry found in a policy file.
type LoadError struct {
	Path   string
	Errors map[string]error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	streams := make([]string, 0, len(e.Errors))
	for s := range e.Errors {
		streams = append(streams, s)
	}
	sort.Strings(streams)

	var sb strings.Builder
	if e.Path != "" {
		fmt.Fprintf(&sb, "invalid policy file %q:", e.Path)
	} else {
		sb.WriteString("invalid policy document:")
	}
	for _, s := range streams {
		fmt.Fprintf(&sb, "\n  - %s: %v", s, e.Errors[s])
	}
	return sb.String()
}

// Unwrap exposes the per-stream errors to errors.Is and errors.As.
func (e *LoadError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, err := range e.Errors {
		errs = append(errs, err)
	}
	return errs
}

// Load reads and parses the policy file at path.
func Load(path string) ([]lifecycle.RetentionPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %q: %w", path, err)
	}
	policies, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
			return nil, le
		}
		return nil, fmt.Errorf("failed to parse policy file %q: %w", path, err)
	}
	return policies, nil
}

// Parse decodes a policy document and returns its policies sorted by stream.
func Parse(data []byte) ([]lifecycle.RetentionPolicy, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Policies()
}

// Policies converts every entry of the document.
func (d Document) Policies() ([]lifecycle.RetentionPolicy, error) {
	policies := make([]lifecycle.RetentionPolicy, 0, len(d.Streams))
	invalid := make(map[string]error)

	for stream, entry := range d.Streams {
		p, err := entry.Policy(stream)
		if err != nil {
			invalid[stream] = err
			continue
		}
		policies = append(policies, p)
	}
	if len(invalid) > 0 {
		return nil, &LoadError{Errors: invalid}
	}

	sort.Slice(policies, func(i, j int) bool {
		return policies[i].Stream < policies[j].Stream
	})
	return policies, nil
}

// Marshal renders policies as a policy file.
func Marshal(policies []lifecycle.RetentionPolicy) ([]byte, error) {
	doc := Document{Streams: make(map[string]Entry, len(policies))}
	for _, p := range policies {
		doc.Streams[p.Stream] = EntryFor(p)
	}
	return yaml.Marshal(doc)
}

// SyncResult counts what Sync changed.
type SyncResult struct {
	Registered int
	Removed    int

	// RemovedStreams lists the streams Removed counts, sorted.
	RemovedStreams []string
}

// Sync makes the store's policy set equal to policies: every policy is
// registered and streams missing from policies are removed.
func Sync(store *lifecycle.PolicyStore, policies []lifecycle.RetentionPolicy) (SyncResult, error) {
	var res SyncResult
	keep := make(map[string]bool, len(policies))

	for _, p := range policies {
		if err := store.RegisterPolicy(p); err != nil {
			return res, err
		}
		keep[p.Stream] = true
		res.Registered++
	}

	for _, stream := range store.Streams() {
		if keep[stream] {
			continue
		}
		if err := store.RemovePolicy(stream); err != nil && !errors.Is(err, lifecycle.ErrUnknownStream) {
			return res, err
		}
		res.Removed++
		res.RemovedStreams = append(res.RemovedStreams, stream)
	}
	return res, nil
}

// ParseAge parses a Go duration with an optional leading day component.
func ParseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty age")
	}

	var total time.Duration
	if i := strings.IndexByte(s, 'd'); i >= 0 {
		days, err := strconv.ParseInt(s[:i], 10, 64)
		if err != nil || days < 0 {
			return 0, fmt.Errorf("invalid day count in %q", s)
		}
		if days > int64(math.MaxInt64/int64(day)) {
			return 0, fmt.Errorf("age %q overflows", s)
		}
		total = time.Duration(days) * day
		s = s[i+1:]
		if s == "" {
			return total, nil
		}
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid age: %w", err)
	}
	return total + d, nil
}

// FormatAge renders whole days as "<n>d" and everything else as a Go duration.
func FormatAge(d time.Duration) string {
	if d > 0 && d%day == 0 {
		return fmt.Sprintf("%dd", d/day)
	}
	return d.String()
}

// ParseSize parses a byte size such as "5GiB", "500MB" or "1048576".
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return int64(n), nil
}

// FormatSize renders exact binary multiples with IEC suffixes and anything
// else as plain bytes, so that ParseSize(FormatSize(n)) == n.
func FormatSize(n int64) string {
	units := []struct {
		suffix string
		size   int64
	}{
		{"TiB", 1 << 40},
		{"GiB", 1 << 30},
		{"MiB", 1 << 20},
		{"KiB", 1 << 10},
	}
	for _, u := range units {
		if n >= u.size && n%u.size == 0 {
			return fmt.Sprintf("%d%s", n/u.size, u.suffix)
		}
	}
	return strconv.FormatInt(n, 10)
}

// DefaultPolicies returns the retention settings of the standard log
// streams: every stream rolls over daily or at 5GiB, and rolled indices are
// kept 30 days for api, 14 for minio, 7 for postgres and web, 3 for redis.
func DefaultPolicies() []lifecycle.RetentionPolicy {
	retention := map[string]int{
		"api":      30,
		"minio":    14,
		"postgres": 7,
		"redis":    3,
		"web":      7,
	}
	policies := make([]lifecycle.RetentionPolicy, 0, len(retention))
	for stream, days := range retention {
		policies = append(policies, lifecycle.RetentionPolicy{
			Stream:          stream,
			RolloverMaxAge:  day,
			RolloverMaxSize: 5 << 30,
			DeleteMinAge:    time.Duration(days) * day,
		})
	}
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].Stream < policies[j].Stream
	})
	return policies
}
