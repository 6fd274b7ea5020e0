package pck

import "context"

// GraphQuery answers the two read-only views the UI needs: a subgraph and
// a single entity's detail. GetEntity and the no-center form of GetGraph
// apply the per-account read view on the otherwise-global graph (an account
// only sees what its own trajectories have touched); the CenterID BFS form
// of GetGraph walks the shared graph without that filter.
type GraphQuery struct {
	store Store
}

// NewGraphQuery wires a Store into a ready-to-use GraphQuery.
func NewGraphQuery(store Store) *GraphQuery {
	return &GraphQuery{store: store}
}

// GraphOptions configures GetGraph. Depth applies only to the CenterID BFS
// form; MinWeight filters edges in both forms, and the no-center form
// returns the account's full touched subgraph filtered by MinWeight.
type GraphOptions struct {
	CenterID  string
	Depth     int
	MinWeight int64
}

// Subgraph is the result of GetGraph: a node/edge set with no duplicates.
type Subgraph struct {
	Entities []Entity
	Edges    []Edge
}

// GetGraph returns the account's view of the graph. Without CenterID, it
// collects every entity the account's trajectories have touched and the
// edges among them. With CenterID, it instead BFSes from that node out to
// Depth hops over edges at or above MinWeight, regardless of whether the
// account has touched every node along the way (the BFS is over the shared
// graph; only GetEntity enforces the stricter per-account gate).
func (q *GraphQuery) GetGraph(ctx context.Context, accountID string, opts GraphOptions) (Subgraph, error) {
	if opts.Depth <= 0 {
		opts.Depth = 2
	}

	if opts.CenterID == "" {
		return q.accountSubgraph(ctx, accountID, opts.MinWeight)
	}
	return q.bfsSubgraph(ctx, opts.CenterID, opts.Depth, opts.MinWeight)
}

func (q *GraphQuery) accountSubgraph(ctx context.Context, accountID string, minWeight int64) (Subgraph, error) {
	entityIDs, err := q.store.ListEntityIDsTouchedByAccount(ctx, accountID)
	if err != nil {
		return Subgraph{}, err
	}
	entities := make([]Entity, 0, len(entityIDs))
	for _, id := range entityIDs {
		e, err := q.store.GetEntity(ctx, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return Subgraph{}, err
		}
		entities = append(entities, e)
	}
	edges, err := q.store.EdgesAmong(ctx, entityIDs, minWeight)
	if err != nil {
		return Subgraph{}, err
	}
	return Subgraph{Entities: entities, Edges: edges}, nil
}

func (q *GraphQuery) bfsSubgraph(ctx context.Context, centerID string, depth int, minWeight int64) (Subgraph, error) {
	visited := map[string]bool{centerID: true}
	frontier := []string{centerID}
	edgeSeen := make(map[[2]string]bool)
	var edges []Edge

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			forward, err := q.store.EdgesFrom(ctx, id)
			if err != nil {
				return Subgraph{}, err
			}
			reverse, err := q.store.EdgesTo(ctx, id)
			if err != nil {
				return Subgraph{}, err
			}
			for _, e := range append(forward, reverse...) {
				if e.Weight < minWeight {
					continue
				}
				key := [2]string{e.SourceID, e.TargetID}
				if !edgeSeen[key] {
					edgeSeen[key] = true
					edges = append(edges, e)
				}
				other := e.TargetID
				if other == id {
					other = e.SourceID
				}
				if !visited[other] {
					visited[other] = true
					next = append(next, other)
				}
			}
		}
		frontier = next
	}

	entities := make([]Entity, 0, len(visited))
	for id := range visited {
		e, err := q.store.GetEntity(ctx, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return Subgraph{}, err
		}
		entities = append(entities, e)
	}
	return Subgraph{Entities: entities, Edges: edges}, nil
}

// EntityDetail is the result of GetEntity.
type EntityDetail struct {
	Entity       Entity
	Connected    []Edge       // ordered by weight desc, both directions merged
	RecentTrajectories []Trajectory // up to 5, most recent first
}

// GetEntity returns entityID's detail, but only if accountID has touched it
// through at least one of its own trajectories — otherwise ErrNotFound, to
// enforce the per-user read view on the globally-shared entity.
func (q *GraphQuery) GetEntity(ctx context.Context, accountID, entityID string) (EntityDetail, error) {
	touched, err := q.store.AccountHasTouchedEntity(ctx, accountID, entityID)
	if err != nil {
		return EntityDetail{}, err
	}
	if !touched {
		return EntityDetail{}, ErrNotFound
	}

	ent, err := q.store.GetEntity(ctx, entityID)
	if err != nil {
		return EntityDetail{}, err
	}

	forward, err := q.store.EdgesFrom(ctx, entityID)
	if err != nil {
		return EntityDetail{}, err
	}
	reverse, err := q.store.EdgesTo(ctx, entityID)
	if err != nil {
		return EntityDetail{}, err
	}
	connected := mergeEdgesByWeightDesc(forward, reverse)

	trajectories, err := q.store.ListTrajectoriesByEntity(ctx, accountID, entityID, 5)
	if err != nil {
		return EntityDetail{}, err
	}

	return EntityDetail{Entity: ent, Connected: connected, RecentTrajectories: trajectories}, nil
}

func mergeEdgesByWeightDesc(a, b []Edge) []Edge {
	out := append(append([]Edge{}, a...), b...)
	sortEdgesByWeightDesc(out)
	return out
}
