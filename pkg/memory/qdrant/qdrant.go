// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package qdrant implements memory.VectorStore on a Qdrant server over gRPC.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jllopis/skillchain/pkg/memory"
)

// idKey stores the caller's point id. Qdrant only accepts UUIDs or integers.
const idKey = "_id"

var pointNamespace = uuid.MustParse("6f1c2d4e-93a8-4b7a-9a0e-5d2f3c4b1a60")

// Store is a Qdrant-backed vector store.
type Store struct {
	conn        *grpc.ClientConn
	client      pb.PointsClient
	collections pb.CollectionsClient
}

// New connects to the Qdrant gRPC endpoint at addr.
func New(addr string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("did not connect: %w", err)
	}
	return &Store{
		conn:        conn,
		client:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// CreateCollection creates a cosine collection unless it already exists.
func (s *Store) CreateCollection(ctx context.Context, name string, vectorSize uint64) error {
	exists, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Upsert writes points. Ids are mapped to deterministic UUIDs.
func (s *Store) Upsert(ctx context.Context, collection string, points []memory.Point) error {
	qPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		raw := make(map[string]any, len(p.Payload)+1)
		for k, v := range p.Payload {
			raw[k] = v
		}
		raw[idKey] = p.ID
		payload, err := pb.TryValueMap(raw)
		if err != nil {
			return fmt.Errorf("point %q payload: %w", p.ID, err)
		}
		qPoints[i] = &pb.PointStruct{
			Id:      pb.NewIDUUID(PointUUID(p.ID)),
			Vectors: pb.NewVectorsDense(p.Vector),
			Payload: payload,
		}
	}

	_, err := s.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points:         qPoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Search returns the nearest points to vector.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]memory.SearchResult, error) {
	resp, err := s.client.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		ScoreThreshold: &scoreThreshold,
		WithPayload:    pb.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	results := make([]memory.SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		payload := make(map[string]interface{}, len(r.GetPayload()))
		for k, v := range r.GetPayload() {
			payload[k] = valueToAny(v)
		}
		id, _ := payload[idKey].(string)
		delete(payload, idKey)
		if id == "" {
			if r.GetId().GetUuid() != "" {
				id = r.GetId().GetUuid()
			} else {
				id = fmt.Sprintf("%d", r.GetId().GetNum())
			}
		}
		results[i] = memory.SearchResult{
			ID:    id,
			Score: r.GetScore(),
			Point: memory.Point{ID: id, Payload: payload},
		}
	}
	return results, nil
}

// PointUUID maps an arbitrary id onto the UUID stored in Qdrant.
func PointUUID(id string) string {
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

func valueToAny(v *pb.Value) any {
	switch kind := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return kind.IntegerValue
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	case *pb.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = valueToAny(item)
		}
		return out
	case *pb.Value_StructValue:
		fields := kind.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for k, f := range fields {
			out[k] = valueToAny(f)
		}
		return out
	default:
		return nil
	}
}
