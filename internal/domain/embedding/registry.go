package embedding

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/turtacn/progres-go/pkg/errors"
)

// DatabaseVersionDir is the directory under <data_dir>/databases holding the
// pre-embedded databases.
const DatabaseVersionDir = "v_0_2_0"

// LocationKind selects the Store backing a database.
type LocationKind string

const (
	LocationFile     LocationKind = "file"
	LocationS3       LocationKind = "s3"
	LocationPostgres LocationKind = "postgres"
)

// Location is where a database lives.
type Location struct {
	Kind       LocationKind
	Name       string // alias or reference as given
	Path       string // file
	Bucket     string // s3
	Key        string // s3
	Collection string // postgres
}

func (l Location) String() string {
	switch l.Kind {
	case LocationS3:
		return "s3://" + l.Bucket + "/" + l.Key
	case LocationPostgres:
		return "pg:" + l.Collection
	default:
		return l.Path
	}
}

// builtinDatabases maps aliases to file stems under the version directory.
var builtinDatabases = map[string]string{
	"scope95": "scope95",
	"scope40": "scope40",
	"cath40":  "cath40",
	"ecod70":  "ecod70",
	"pdb100":  "pdb100",
	"af21org": "af21org",
	"ark":     "ark_v1",
	"afted":   "afted",
}

// Registry resolves database aliases and references to Locations.
type Registry struct {
	mu      sync.RWMutex
	dataDir string
	aliases map[string]string
}

// NewRegistry seeds the registry with the built-in aliases under dataDir.
func NewRegistry(dataDir string) *Registry {
	r := &Registry{dataDir: dataDir, aliases: make(map[string]string, len(builtinDatabases))}
	for alias, stem := range builtinDatabases {
		r.aliases[alias] = filepath.Join(dataDir, "databases", DatabaseVersionDir, stem+".db")
	}
	return r
}

// Register maps alias to target, which may be any reference Resolve accepts.
func (r *Registry) Register(alias, target string) error {
	if alias == "" || target == "" {
		return errors.InvalidParam("database registration needs an alias and a target")
	}
	r.mu.Lock()
	r.aliases[alias] = target
	r.mu.Unlock()
	return nil
}

// Aliases lists registered aliases in sorted order.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.aliases))
	for a := range r.aliases {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Target returns the reference an alias points to.
func (r *Registry) Target(alias string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.aliases[alias]
	return t, ok
}

// IsAlias reports whether ref is a registered alias.
func (r *Registry) IsAlias(ref string) bool {
	_, ok := r.Target(strings.TrimSpace(ref))
	return ok
}

// Resolve turns an alias, a file path, "s3://bucket/key" or "pg:<collection>"
// into a Location. File locations must exist.
func (r *Registry) Resolve(ref string) (Location, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Location{}, errors.InvalidParam("no target database given")
	}
	r.mu.RLock()
	target, isAlias := r.aliases[ref]
	r.mu.RUnlock()
	if !isAlias {
		target = ref
	}

	loc, err := ParseLocation(target)
	if err != nil {
		return Location{}, err
	}
	loc.Name = ref
	if loc.Kind != LocationFile {
		return loc, nil
	}
	if st, err := os.Stat(loc.Path); err != nil || st.IsDir() {
		e := errors.DatabaseNotFound(ref)
		if isAlias {
			e = e.WithDetail(ref + ", expected at " + loc.Path)
		}
		return Location{}, e
	}
	return loc, nil
}

// ParseLocation interprets a reference without consulting aliases or the
// filesystem. It is also used for output targets, which need not exist.
func ParseLocation(ref string) (Location, error) {
	switch {
	case strings.HasPrefix(ref, "s3://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(ref, "s3://"), "/")
		if !ok || bucket == "" || key == "" {
			return Location{}, errors.InvalidParam("s3 reference must be s3://bucket/key").WithDetail(ref)
		}
		return Location{Kind: LocationS3, Name: ref, Bucket: bucket, Key: key}, nil
	case strings.HasPrefix(ref, "pg:"):
		coll := strings.TrimPrefix(ref, "pg:")
		if coll == "" {
			return Location{}, errors.InvalidParam("postgres reference must be pg:<collection>").WithDetail(ref)
		}
		return Location{Kind: LocationPostgres, Name: ref, Collection: coll}, nil
	default:
		return Location{Kind: LocationFile, Name: ref, Path: ref}, nil
	}
}
