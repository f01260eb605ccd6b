// Package vector implements the Vector Index Adapter (§4.5 step 7):
// upserts a processed document's embedding keyed by its metadata CID (or
// title digest when none), and serves the k-NN similar_docs lookup.
// Adapted from the teacher's Qdrant-backed semantic store.
package vector

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Record is a single embedding to upsert, keyed by CID (or a title digest
// when the document has no CID yet).
type Record struct {
	Key          string // CID or title digest
	Embedding    []float32
	DocumentType string
	Title        string
}

// SimilarDoc is a k-NN lookup result.
type SimilarDoc struct {
	Key          string
	Score        float32
	DocumentType string
	Title        string
}

// Store is the sole owner of all Qdrant operations for the knowledge
// graph's document embeddings.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New creates a Store connected to Qdrant at the given gRPC address.
func New(addr, collection string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vector: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// EnsureCollection creates the collection if it doesn't already exist.
func (s *Store) EnsureCollection(ctx context.Context, dims int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("vector: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vector: create collection %s: %w", s.collection, err)
	}
	return nil
}

// Upsert stores a document embedding, payload {document_type, title}
// (§4.5 step 7).
func (s *Store) Upsert(ctx context.Context, r Record) error {
	payload := map[string]*pb.Value{
		"document_type": {Kind: &pb.Value_StringValue{StringValue: r.DocumentType}},
		"title":         {Kind: &pb.Value_StringValue{StringValue: r.Title}},
	}
	point := &pb.PointStruct{
		Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.Key}},
		Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding}}},
		Payload: payload,
	}
	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         []*pb.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("vector: upsert %s: %w", r.Key, err)
	}
	return nil
}

// SimilarTo performs k-NN similarity search, used to populate
// ProcessedDocument.SimilarDocs (§4.5 step 7).
func (s *Store) SimilarTo(ctx context.Context, embedding []float32, topK int) ([]SimilarDoc, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("vector: similar_to search: %w", err)
	}
	results := make([]SimilarDoc, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		sd := SimilarDoc{Key: r.GetId().GetUuid(), Score: r.GetScore()}
		if payload := r.GetPayload(); payload != nil {
			sd.DocumentType = payload["document_type"].GetStringValue()
			sd.Title = payload["title"].GetStringValue()
		}
		results[i] = sd
	}
	return results, nil
}
