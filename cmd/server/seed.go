package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dentameet/matching-engine/internal/domain/profile"
)

// loadSeedFile upserts every profile of a JSON array file into seeder.
func loadSeedFile(ctx context.Context, path string, seeder profile.Seeder) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	return loadSeed(ctx, f, seeder)
}

func loadSeed(ctx context.Context, r io.Reader, seeder profile.Seeder) (int, error) {
	var params []profile.Params
	if err := json.NewDecoder(r).Decode(&params); err != nil {
		return 0, fmt.Errorf("decode seed: %w", err)
	}

	for i, p := range params {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := seeder.Upsert(ctx, p); err != nil {
			return i, fmt.Errorf("seed profile %q (#%d): %w", p.ID, i, err)
		}
	}
	return len(params), nil
}
