// Package qdrant backs the Store with a Qdrant server. Memories are points
// whose payload mirrors the sqlite columns; tombstones live in a sibling
// collection. Useful when the memory set outgrows a single local file.
package qdrant

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/watzon/mnemo/internal/config"
	registrystore "github.com/watzon/mnemo/internal/registry/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name:   "qdrant",
		Loader: load,
	})
}

func load(ctx context.Context) (registrystore.Store, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("qdrant store: missing config in context")
	}
	addr := fmt.Sprintf("%s:%d", cfg.QdrantHost, cfg.QdrantPort)
	if strings.Contains(cfg.QdrantHost, ":") {
		addr = cfg.QdrantHost
	}
	conn, err := grpc.NewClient(addr, dialOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("qdrant store: connect: %w", err)
	}
	s := &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		memories:    cfg.QdrantCollectionName + "_memories",
		tombstones:  cfg.QdrantCollectionName + "_tombstones",
		dim:         cfg.EmbedDimension,
	}
	if err := s.ensureCollections(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// QdrantStore implements the Store over a Qdrant server.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	memories    string
	tombstones  string
	dim         int
}

func (s *QdrantStore) ensureCollections(ctx context.Context) error {
	for name, size := range map[string]uint64{
		s.memories: uint64(s.dim),
		// Tombstones carry no meaningful vector; a 1-dim zero vector
		// satisfies the engine.
		s.tombstones: 1,
	} {
		_, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
		if err == nil {
			continue
		}
		_, err = s.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: name,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     size,
						Distance: pb.Distance_Cosine,
					},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("qdrant store: create collection %s: %w", name, err)
		}
		log.Info("Created Qdrant collection", "name", name)
	}
	return nil
}

// Dimension reports the embedding dimension the store was opened with.
func (s *QdrantStore) Dimension() int { return s.dim }

// Close releases the gRPC connection.
func (s *QdrantStore) Close() error { return s.conn.Close() }

func dialOptions(cfg *config.Config) []grpc.DialOption {
	opts := make([]grpc.DialOption, 0, 2)
	if cfg.QdrantUseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(nil)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if strings.TrimSpace(cfg.QdrantAPIKey) != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(apiKeyCredentials{
			apiKey:     cfg.QdrantAPIKey,
			requireTLS: cfg.QdrantUseTLS,
		}))
	}
	return opts
}

type apiKeyCredentials struct {
	apiKey     string
	requireTLS bool
}

func (a apiKeyCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"api-key": a.apiKey}, nil
}

func (a apiKeyCredentials) RequireTransportSecurity() bool {
	return a.requireTLS
}

func str(v string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
}

func num(v float64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: v}}
}

func integer(v int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: v}}
}

func pointID(id uuid.UUID) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}
}

var _ registrystore.Store = (*QdrantStore)(nil)
