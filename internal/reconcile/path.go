package reconcile

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"driftmirror/internal/database"
)

const pathCacheSize = 4096

// pathResolver computes an item's full slash-delimited path by walking the
// live parent chain, per §3's invariant that path is always derived and
// never trusted as the sole source of truth. Ancestor paths are cached since
// a single reconciliation pass may touch many siblings under the same
// parent; a rename, move or delete drops the whole cache, since a cached
// descendant path embeds every ancestor's name.
type pathResolver struct {
	db    *database.DB
	cache *lru.Cache[int64, string]
}

func newPathResolver(db *database.DB) *pathResolver {
	cache, _ := lru.New[int64, string](pathCacheSize)
	return &pathResolver{db: db, cache: cache}
}

func (p *pathResolver) resolve(parentInternalID *int64, name string) (string, error) {
	if parentInternalID == nil {
		return "/" + name, nil
	}
	parentPath, err := p.pathOf(*parentInternalID, make(map[int64]bool))
	if err != nil {
		return "", err
	}
	return parentPath + "/" + name, nil
}

// pathOf walks the parent chain up from internalID, building the slash
// path. visited tracks the chain walked so far in this call; re-entering an
// id already on it means the provider-sourced parent links form a cycle,
// which is a fatal data error (§9) rather than something to loop forever on.
func (p *pathResolver) pathOf(internalID int64, visited map[int64]bool) (string, error) {
	if cached, ok := p.cache.Get(internalID); ok {
		return cached, nil
	}

	if visited[internalID] {
		return "", fmt.Errorf("fatal: cycle detected in parent chain at item %d", internalID)
	}
	visited[internalID] = true

	item, err := p.db.LookupItemByInternalID(internalID)
	if err != nil {
		return "", fmt.Errorf("resolve path for item %d: %w", internalID, err)
	}
	if item == nil {
		return "", fmt.Errorf("parent item %d not found while resolving path", internalID)
	}

	var path string
	if item.ParentInternalID == nil {
		path = "/" + item.Name
	} else {
		parentPath, err := p.pathOf(*item.ParentInternalID, visited)
		if err != nil {
			return "", err
		}
		path = parentPath + "/" + item.Name
	}

	p.cache.Add(internalID, path)
	return path, nil
}

// invalidate drops every cached path after internalID's name or parent
// changed: the cached paths of its descendants contain its old name too.
func (p *pathResolver) invalidate(internalID int64) {
	p.cache.Purge()
}
