// Package extractor implements the Extractor (§4.5): it chunks a
// document, drives per-chunk LLM extraction against class-specific
// prompts, merges chunk results, validates and demotes, upserts a vector
// embedding for similarity search, pins the processed document to the
// object store, persists it locally, and appends a graph-update event.
package extractor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hrkg/platform/engine/coord"
	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/engine/extract"
	"github.com/hrkg/platform/engine/llm"
	"github.com/hrkg/platform/engine/osa"
	"github.com/hrkg/platform/engine/vector"
)

// processedDigestSet is the coordination-store set tracking content
// digests already run through the pipeline (§4.5 step 1).
const processedDigestSet = "processed_digests"

// graphUpdateStream is the capped stream the Graph Writer Service
// consumes (§4.5 step 10, §4.6).
const graphUpdateStream = "graph_updates"

// graphUpdateStreamMaxMsgs bounds the capped stream (approximate
// trimming per §4.5 step 10).
const graphUpdateStreamMaxMsgs = 100_000

// MaxTokensPerChunk bounds a single chunk-extraction LLM call.
const MaxTokensPerChunk = 2000

// SimilarDocsTopK is the k-NN width for populating similar_docs.
const SimilarDocsTopK = 5

// Extractor wires together chunking, LLM extraction, vector similarity,
// and the OSA/local/stream outputs described in §4.5.
type Extractor struct {
	CA        *coord.Adapter
	OSA       *osa.Adapter
	Vector    *vector.Store
	Embedder  Embedder
	LLMClient llm.Client
	Prompts   *PromptSet
	LocalRoot string
	Log       *slog.Logger
}

// New creates an Extractor. localRoot is the "data" directory root under
// which processed/<stem>.json is written (§6).
func New(ca *coord.Adapter, store *osa.Adapter, vecStore *vector.Store, embedder Embedder, client llm.Client, promptsDir, localRoot string, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{
		CA:        ca,
		OSA:       store,
		Vector:    vecStore,
		Embedder:  embedder,
		LLMClient: client,
		Prompts:   NewPromptSet(promptsDir),
		LocalRoot: localRoot,
		Log:       log,
	}
}

// Process runs the full §4.5 pipeline for one document's normalised text.
func (e *Extractor) Process(ctx context.Context, documentID, text string) (domain.ProcessedDocument, error) {
	digest := domain.ContentDigest(text)

	alreadyProcessed, err := e.CA.SetIsMember(ctx, processedDigestSet, digest)
	if err != nil {
		return domain.ProcessedDocument{}, fmt.Errorf("extractor: check processed set: %w", err)
	}
	if alreadyProcessed {
		return domain.ProcessedDocument{}, domain.ErrAlreadyProcessed
	}

	chunks := extract.ChunkDocument(text, extract.DefaultChunkSize, extract.DefaultOverlap, extract.DefaultMaxChunks)

	results := make([]domain.ProcessedDocument, 0, len(chunks))
	for _, chunk := range chunks {
		pd, err := e.extractChunk(ctx, chunk)
		if err != nil {
			e.Log.Warn("extractor: chunk extraction failed", "document_id", documentID, "err", err)
		}
		results = append(results, pd)
	}

	pd := smartUnion(results)
	pd.DocumentID = digest
	if pd.DocumentType == "" {
		pd.DocumentType = domain.ClassOther
	}
	pd.TextContent = text

	if err := domain.ValidateProcessedDocument(pd); err != nil {
		pd = domain.DemoteToOther(pd, err.Error())
	}

	if e.Embedder != nil && e.Vector != nil {
		if err := e.upsertSimilarity(ctx, &pd); err != nil {
			e.Log.Warn("extractor: vector upsert failed", "document_id", documentID, "err", err)
		}
	}

	body, err := json.Marshal(pd)
	if err != nil {
		return pd, fmt.Errorf("extractor: marshal processed document: %w", err)
	}

	if e.OSA != nil {
		if cid, err := e.OSA.Put(ctx, body); err == nil {
			if err := e.OSA.Pin(ctx, cid, map[string]string{"document_id": documentID}); err == nil {
				pd.MetadataCID = cid
				body, _ = json.Marshal(pd)
			}
		} else {
			e.Log.Warn("extractor: OSA pin failed", "document_id", documentID, "err", err)
		}
	}

	localPath, err := e.persistLocal(documentID, body)
	if err != nil {
		return pd, fmt.Errorf("extractor: persist local: %w", err)
	}

	event, err := json.Marshal(map[string]any{"path": localPath, "data": pd})
	if err != nil {
		return pd, fmt.Errorf("extractor: marshal graph-update event: %w", err)
	}
	if err := e.CA.StreamAppend(ctx, graphUpdateStream, graphUpdateStreamMaxMsgs, event); err != nil {
		return pd, fmt.Errorf("extractor: append graph-update event: %w", err)
	}

	if err := e.CA.SetAdd(ctx, processedDigestSet, digest); err != nil {
		e.Log.Warn("extractor: mark digest processed failed", "document_id", documentID, "err", err)
	}

	return pd, nil
}

// extractChunk renders the class-specific prompt, calls the LLM, and
// parses the strict-JSON response (§4.5 step 3).
func (e *Extractor) extractChunk(ctx context.Context, chunk string) (domain.ProcessedDocument, error) {
	class := DetectDocumentClass(chunk)
	messages := []llm.Message{
		{Role: "system", Content: classPrompt(class)},
		{Role: "user", Content: e.Prompts.Render(class, chunk)},
	}
	raw, err := llm.Chat(ctx, e.LLMClient, messages, MaxTokensPerChunk)
	if err != nil {
		return domain.ProcessedDocument{DocumentType: class, Error: &domain.ExtractError{Reason: err.Error()}}, err
	}

	cleaned := stripCodeFences(raw)
	var pd domain.ProcessedDocument
	if err := json.Unmarshal([]byte(cleaned), &pd); err != nil {
		return domain.ProcessedDocument{
			DocumentType: class,
			Error:        &domain.ExtractError{Reason: "llm output did not parse as JSON", Raw: raw},
		}, domain.ErrLLMParse
	}
	if pd.DocumentType == "" {
		pd.DocumentType = class
	}
	return pd, nil
}

// upsertSimilarity embeds the document text, upserts it into the vector
// index keyed by metadata CID (or title digest when none is set yet —
// at this point in the pipeline it never is, per §4.5 step 7 running
// before step 8's pin), and populates SimilarDocs from a k-NN lookup.
func (e *Extractor) upsertSimilarity(ctx context.Context, pd *domain.ProcessedDocument) error {
	embedding, err := e.Embedder.Embed(ctx, pd.TextContent)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	title := documentTitle(*pd)
	key := pd.MetadataCID
	if key == "" {
		sum := sha256.Sum256([]byte(title))
		key = hex.EncodeToString(sum[:])
	}

	if err := e.Vector.Upsert(ctx, vector.Record{
		Key:          key,
		Embedding:    embedding,
		DocumentType: string(pd.DocumentType),
		Title:        title,
	}); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}

	hits, err := e.Vector.SimilarTo(ctx, embedding, SimilarDocsTopK)
	if err != nil {
		return fmt.Errorf("similar_to: %w", err)
	}
	for _, h := range hits {
		if h.Key == key {
			continue
		}
		pd.SimilarDocs = append(pd.SimilarDocs, h.Key)
	}
	return nil
}

func documentTitle(pd domain.ProcessedDocument) string {
	switch {
	case pd.Project != nil && pd.Project.Name != "":
		return pd.Project.Name
	case pd.Patent != nil && pd.Patent.Title != "":
		return pd.Patent.Title
	case pd.Research != nil && pd.Research.Title != "":
		return pd.Research.Title
	default:
		return pd.DocumentID
	}
}

// persistLocal writes body to data/processed/<stem>.json atomically (§4.5
// step 9, §6 persisted-state layout).
func (e *Extractor) persistLocal(documentID string, body []byte) (string, error) {
	stem := domain.ProcessedDocumentStem(documentID)
	dir := filepath.Join(e.LocalRoot, "processed")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	finalPath := filepath.Join(dir, stem+".json")
	tmp, err := os.CreateTemp(dir, stem+".json.tmp-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	return finalPath, nil
}
