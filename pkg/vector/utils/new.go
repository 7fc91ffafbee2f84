package vectorutils

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/murmurhq/murmur/pkg/vector"
	"github.com/murmurhq/murmur/pkg/vector/chroma"
	"github.com/murmurhq/murmur/pkg/vector/memory"
	"github.com/murmurhq/murmur/pkg/vector/qdrant"
	"github.com/murmurhq/murmur/pkg/vector/sqlitevec"
)

type NewVectorDriverOpts struct {
	ProviderType string
	TargetURL    string // server URL (chroma) or host (qdrant) or db path (sqlitevec)
	Dimensions   uint
	Logger       *zap.Logger
}

func NewVectorDriver(ctx context.Context, o *NewVectorDriverOpts) (vector.VectorDriver, error) {
	switch o.ProviderType {
	case "sqlitevec":
		return sqlitevec.NewSQLiteVecDriver(sqlitevec.Config{
			DBPath:     o.TargetURL,
			Dimensions: o.Dimensions,
		}, o.Logger)
	case "chroma":
		return chroma.NewChromaDriver(chroma.Config{
			URL: o.TargetURL,
		}, o.Logger)
	case "qdrant":
		return qdrant.NewQdrantDriver(ctx, qdrant.Config{
			Host:       o.TargetURL,
			Dimensions: uint64(o.Dimensions),
		}, o.Logger)
	case "memory":
		return memory.NewMemoryDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}
