package functions

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/graph/graphs/gen"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/samuelchassot/serverless-benchmarks/harness"
)

// GraphMSTBenchmark is the name of the minimum spanning tree benchmark.
const GraphMSTBenchmark = "graph-mst"

// DefaultEdgesPerNode is the attachment count of the generated
// Barabási–Albert graphs.
const DefaultEdgesPerNode = 10

// MSTResult is the result record of one spanning tree computation.
type MSTResult struct {
	Vertices  int     `json:"vertices"`
	TreeEdges int     `json:"tree_edges"`
	Weight    float64 `json:"weight"`
}

// GraphMST generates a scale-free graph of event.size nodes and computes
// its minimum spanning tree. It touches no storage.
type GraphMST struct {
	EdgesPerNode int
	MaxSize      int64 // 0 means unbounded
}

func (g *GraphMST) Name() string { return "mst" }

func (g *GraphMST) edgesPerNode() int {
	if g.EdgesPerNode > 0 {
		return g.EdgesPerNode
	}
	return DefaultEdgesPerNode
}

func (g *GraphMST) CheckEvent(ev *harness.Event) error {
	size, err := ev.Int("size")
	if err != nil {
		return err
	}

	if size < 1 {
		return fmt.Errorf("%w: size %d must be positive", harness.ErrMalformedEvent, size)
	}
	if g.MaxSize > 0 && size > g.MaxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", harness.ErrMalformedEvent, size, g.MaxSize)
	}

	return nil
}

// Prepare generates the graph; its cost is reported as
// graph_generating_time and kept out of compute_time.
func (g *GraphMST) Prepare(ctx context.Context, in *harness.Input) ([]harness.SubStage, error) {
	size, err := in.Event.Int("size")
	if err != nil {
		return nil, err
	}

	graph, d, err := harness.Measure(in.Timer, "graph_generating", func() (*simple.WeightedUndirectedGraph, error) {
		return generate(int(size), g.edgesPerNode())
	})
	if err != nil {
		return nil, fmt.Errorf("generate graph: %w", err)
	}

	in.State = graph

	return []harness.SubStage{
		{Name: "graph_generating_time", Phase: harness.PhaseNone, Elapsed: d},
	}, nil
}

func (g *GraphMST) Run(ctx context.Context, in *harness.Input) (*harness.Output, error) {
	graph, ok := in.State.(*simple.WeightedUndirectedGraph)
	if !ok {
		return nil, errors.New("graph not generated")
	}

	tree := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	weight := path.Prim(tree, graph)

	return &harness.Output{Result: MSTResult{
		Vertices:  graph.Nodes().Len(),
		TreeEdges: tree.Edges().Len(),
		Weight:    weight,
	}}, nil
}

// generate builds a preferential-attachment graph with unit edge weights.
// Graphs with no more than m nodes attach each new node to every earlier
// one.
func generate(n, m int) (*simple.WeightedUndirectedGraph, error) {
	ug := simple.NewUndirectedGraph()

	if n == 1 {
		ug.AddNode(simple.Node(0))
	} else if err := gen.PreferentialAttachment(ug, n, min(m, n-1), nil); err != nil {
		return nil, err
	}

	wg := simple.NewWeightedUndirectedGraph(0, math.Inf(1))

	nodes := ug.Nodes()
	for nodes.Next() {
		wg.AddNode(nodes.Node())
	}

	edges := ug.Edges()
	for edges.Next() {
		e := edges.Edge()
		wg.SetWeightedEdge(wg.NewWeightedEdge(e.From(), e.To(), 1))
	}

	return wg, nil
}

// Benchmark describes the graph MST benchmark for the harness.
func (g *GraphMST) Benchmark() (harness.Benchmark, error) {
	reg, err := harness.NewRegistry(g)
	if err != nil {
		return harness.Benchmark{}, fmt.Errorf("%s: %w", GraphMSTBenchmark, err)
	}

	return harness.Benchmark{
		Name:             GraphMSTBenchmark,
		Input:            harness.InputNone,
		Operations:       reg,
		DefaultOperation: g.Name(),
	}, nil
}
