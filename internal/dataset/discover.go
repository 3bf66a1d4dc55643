package dataset

import (
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Shard names look like <split>-NNNNNN.tar, e.g. train-000003.tar.
var shardRegexp = regexp.MustCompile(`^([a-z][a-z0-9_]*)-([0-9]{6,})\.tar$`)

// Shard locates one audio TAR archive inside a dataset tree.
type Shard struct {
	Path  string // slash separated, relative to the walked fs.FS
	Split string
	Index int
}

// DiscoverShards walks fsys and returns every shard whose split is in
// splits, or every shard when splits is empty. The result is ordered by
// split, then index, then path.
func DiscoverShards(fsys fs.FS, splits ...string) ([]Shard, error) {
	want := make(map[string]bool, len(splits))
	for _, s := range splits {
		want[s] = true
	}

	var shards []Shard
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		m := shardRegexp.FindStringSubmatch(d.Name())
		if m == nil {
			return nil
		}
		if len(want) > 0 && !want[m[1]] {
			return nil
		}
		idx, err := strconv.Atoi(m[2])
		if err != nil {
			return errors.Wrapf(err, "shard index %s", p)
		}
		shards = append(shards, Shard{Path: p, Split: m[1], Index: idx})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "discover shards")
	}

	sort.Slice(shards, func(i, j int) bool {
		a, b := shards[i], shards[j]
		if a.Split != b.Split {
			return a.Split < b.Split
		}
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return a.Path < b.Path
	})
	return shards, nil
}

// Key returns split/basename of the shard, used to prefix sample keys.
func (s Shard) Key() string {
	return s.Split + "/" + path.Base(s.Path)
}
