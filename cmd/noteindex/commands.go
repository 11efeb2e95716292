package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/notewell/noteindex/dedup"
	"github.com/notewell/noteindex/embedder"
	"github.com/notewell/noteindex/hybrid"
	"github.com/notewell/noteindex/index"
	"github.com/notewell/noteindex/types"
)

var (
	flagDB         string
	flagScopes     []string
	flagProvider   string
	flagBaseURL    string
	flagModel      string
	flagDimensions int

	flagEmbed  bool
	flagLimit  int
	flagIn     string
	flagPrefix string
)

var rootCmd = &cobra.Command{
	Use:     "noteindex",
	Short:   "Local note retrieval: keyword and semantic search with dedup",
	Version: fmt.Sprintf("%s (built %s, %s driver via %s)", version, buildTime, index.DriverName, index.BuildMode),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "noteindex.db", "index database path")
	rootCmd.PersistentFlags().StringArrayVar(&flagScopes, "scope", nil, "scope to index as name=dir (repeatable)")
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "embedding provider (openai, ollama); empty disables embeddings")
	rootCmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "embedding API base URL (default per provider)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "embedding model (default per provider)")
	rootCmd.PersistentFlags().IntVar(&flagDimensions, "dimensions", 0, "embedding width (0 = probe)")

	rootCmd.AddCommand(syncCmd, searchCmd, checkCmd, statsCmd)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openIndex() *index.Index {
	return index.New(index.Options{Path: flagDB})
}

// parseScopes turns repeated name=dir flags into scope descriptors.
func parseScopes() ([]index.ScopeDir, error) {
	if len(flagScopes) == 0 {
		return nil, fmt.Errorf("at least one --scope name=dir is required")
	}
	out := make([]index.ScopeDir, 0, len(flagScopes))
	for _, s := range flagScopes {
		name, dir, ok := strings.Cut(s, "=")
		if !ok || name == "" || dir == "" {
			return nil, fmt.Errorf("invalid --scope %q, want name=dir", s)
		}
		out = append(out, index.ScopeDir{Scope: name, Dir: dir})
	}
	return out, nil
}

// newProvider builds the embedding provider from flags; nil with no
// error when embeddings are not configured.
func newProvider(ctx context.Context) (embedder.Provider, error) {
	if flagProvider == "" {
		return nil, nil
	}
	return embedder.New(ctx, embedder.Config{
		Provider:   flagProvider,
		BaseURL:    flagBaseURL,
		Model:      flagModel,
		Dimensions: flagDimensions,
	})
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the index with the note directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		scopes, err := parseScopes()
		if err != nil {
			return err
		}

		ix := openIndex()
		defer func() { _ = ix.Close() }()

		stats, err := ix.SyncFiles(ctx, scopes)
		if err != nil {
			return err
		}
		fmt.Printf("Sync: %d added, %d updated, %d removed, %d unchanged\n",
			stats.Added, stats.Updated, stats.Removed, stats.Unchanged)

		if flagEmbed {
			if err := fillEmbeddings(ctx, ix); err != nil {
				return err
			}
		}
		return ix.Flush(ctx)
	},
}

// fillEmbeddings drains the no-embedding worklist in batches.
func fillEmbeddings(ctx context.Context, ix *index.Index) error {
	provider, err := newProvider(ctx)
	if err != nil {
		return err
	}
	if provider == nil {
		return fmt.Errorf("--embed requires --provider")
	}
	defer func() { _ = provider.Close() }()

	total := 0
	for {
		chunks, err := ix.GetChunksWithoutEmbeddings(ctx, provider.Name(), provider.Model(), embedder.DefaultBatchSize)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			break
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vecs, err := provider.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		for i, c := range chunks {
			if err := ix.CacheEmbedding(ctx, provider.Name(), provider.Model(), c.ContentHash, vecs[i]); err != nil {
				return err
			}
		}
		total += len(chunks)
	}
	fmt.Printf("Embedded %d chunks (%s/%s)\n", total, provider.Name(), provider.Model())
	return nil
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed notes (hybrid when embeddings are configured)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		ix := openIndex()
		defer func() { _ = ix.Close() }()

		results, err := runSearch(ctx, ix, args[0])
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No results.")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%2d. %.3f  %s [%s] lines %d-%d\n",
				i+1, r.score, r.hit.Path, r.hit.Scope, r.hit.StartLine, r.hit.EndLine)
			fmt.Printf("    %s\n", firstLine(r.hit.Content))
		}
		return nil
	},
}

type searchResult struct {
	score float64
	hit   types.ChunkHit
}

// chunkKey identifies one chunk across both channels. Chunk IDs repeat
// across files with identical bodies, so the file identity is part of
// the key.
func chunkKey(path, scope, id string) string {
	return path + "\x1f" + scope + "\x1f" + id
}

// runSearch gathers both candidate pools and merges them. Without a
// provider or a warm cache only the keyword channel contributes.
func runSearch(ctx context.Context, ix *index.Index, query string) ([]searchResult, error) {
	limit := flagLimit
	if limit <= 0 {
		limit = 10
	}

	var filter *index.Filter
	if flagIn != "" || flagPrefix != "" {
		filter = &index.Filter{Scope: flagIn, PathPrefix: flagPrefix}
	}

	hits, err := ix.SearchFTS(ctx, query, hybrid.PoolLimit(limit), filter)
	if err != nil {
		return nil, err
	}
	keyword := make([]hybrid.KeywordHit, len(hits))
	byKey := make(map[string]types.ChunkHit, len(hits))
	for i, h := range hits {
		key := chunkKey(h.Path, h.Scope, h.ID)
		keyword[i] = hybrid.KeywordHit{Key: key, Rank: h.Rank}
		byKey[key] = h
	}

	vector, err := vectorCandidates(ctx, ix, query, limit, filter, byKey)
	if err != nil {
		return nil, err
	}

	merged := hybrid.Merge(keyword, vector, hybrid.DefaultWeights(), limit)
	out := make([]searchResult, 0, len(merged))
	for _, m := range merged {
		if hit, ok := byKey[m.Key]; ok {
			out = append(out, searchResult{score: m.Score, hit: hit})
		}
	}
	return out, nil
}

// vectorCandidates embeds the query and ranks cached chunk vectors by
// cosine similarity. Chunks found only here are backfilled into byKey
// so the merged output can render them.
func vectorCandidates(ctx context.Context, ix *index.Index, query string, limit int, filter *index.Filter, byKey map[string]types.ChunkHit) ([]hybrid.VectorHit, error) {
	provider, err := newProvider(ctx)
	if err != nil {
		// Embeddings accelerate, they don't gate: fall back to keyword-only.
		fmt.Fprintf(os.Stderr, "warning: embeddings unavailable, keyword-only search: %v\n", err)
		return nil, nil
	}
	if provider == nil {
		return nil, nil
	}
	defer func() { _ = provider.Close() }()

	queryVec, err := provider.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	cached, err := ix.GetEmbeddings(ctx, provider.Name(), provider.Model())
	if err != nil {
		return nil, err
	}

	hits := make([]hybrid.VectorHit, 0, len(cached))
	for _, ce := range cached {
		if len(ce.Vector) != len(queryVec) {
			continue
		}
		if filter != nil {
			if filter.Scope != "" && ce.Scope != filter.Scope {
				continue
			}
			if filter.PathPrefix != "" && !strings.HasPrefix(ce.Path, filter.PathPrefix) {
				continue
			}
		}
		key := chunkKey(ce.Path, ce.Scope, ce.ChunkID)
		hits = append(hits, hybrid.VectorHit{Key: key, Similarity: embedder.CosineSimilarity(queryVec, ce.Vector)})
		if _, ok := byKey[key]; !ok {
			chunks, err := ix.ListChunks(ctx, ce.Path, ce.Scope)
			if err != nil {
				return nil, err
			}
			for _, c := range chunks {
				if c.ID == ce.ChunkID {
					byKey[key] = types.ChunkHit{Chunk: c}
					break
				}
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if pool := hybrid.PoolLimit(limit); len(hits) > pool {
		hits = hits[:pool]
	}
	return hits, nil
}

var checkCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Check a file for duplicates against the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		ix := openIndex()
		defer func() { _ = ix.Close() }()

		provider, err := newProvider(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: embeddings unavailable, keyword estimate only: %v\n", err)
			provider = nil
		}
		if provider != nil {
			defer func() { _ = provider.Close() }()
		}

		engine := dedup.New(dedup.DefaultConfig(), ix, provider, nil)
		result, err := engine.CheckDuplicate(ctx, string(raw))
		if err != nil {
			return err
		}

		if result.ExactMatch != nil {
			fmt.Printf("Exact duplicate of %s [%s]\n", result.ExactMatch.Path, result.ExactMatch.Scope)
			return nil
		}
		if len(result.NearDuplicates) == 0 {
			fmt.Println("No duplicates found.")
			return nil
		}
		fmt.Println("Near duplicates:")
		for _, n := range result.NearDuplicates {
			fmt.Printf("  %.3f (%s)  %s [%s]\n", n.Similarity, n.Method, n.Path, n.Scope)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		ix := openIndex()
		defer func() { _ = ix.Close() }()

		stats, err := ix.Stats(ctx)
		if err != nil {
			return err
		}
		if !stats.Ready {
			fmt.Println("Index unavailable (degraded mode).")
			return nil
		}
		fmt.Printf("Files:             %d\n", stats.Files)
		fmt.Printf("Chunks:            %d\n", stats.Chunks)
		fmt.Printf("Cached embeddings: %d\n", stats.CachedEmbeddings)
		fmt.Printf("Size:              %d bytes\n", stats.SizeBytes)
		return nil
	},
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 100 {
		s = s[:100] + "..."
	}
	return s
}

func init() {
	syncCmd.Flags().BoolVar(&flagEmbed, "embed", false, "fill the embedding cache after syncing")
	searchCmd.Flags().IntVar(&flagLimit, "limit", 10, "maximum results")
	searchCmd.Flags().StringVar(&flagIn, "in", "", "restrict to one scope")
	searchCmd.Flags().StringVar(&flagPrefix, "path", "", "restrict to a path prefix")
}
