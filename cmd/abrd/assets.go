package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/spf13/cobra"

	"github.com/amillerrr/abr-pipeline/internal/ladder"
	"github.com/amillerrr/abr-pipeline/internal/storage"
	"github.com/amillerrr/abr-pipeline/pkg/models"
)

const defaultAssetLimit = 25

// assetCatalog is the read side of the asset catalog.
type assetCatalog interface {
	GetAsset(ctx context.Context, assetID string) (*models.AssetRecord, error)
	ListAssets(ctx context.Context, limit int32, startKey map[string]types.AttributeValue) ([]models.AssetRecord, map[string]types.AttributeValue, error)
}

func newAssetsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Inspect the asset catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newAssetsListCommand(ctx))
	cmd.AddCommand(newAssetsShowCommand(ctx))
	return cmd
}

func newAssetsListCommand(ctx *commandContext) *cobra.Command {
	var limit int32

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recently processed assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := openCatalog(cmd.Context(), ctx)
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = defaultAssetLimit
			}
			records, _, err := catalog.ListAssets(cmd.Context(), limit, nil)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No assets found")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderAssets(records))
			return nil
		},
	}

	cmd.Flags().Int32Var(&limit, "limit", defaultAssetLimit, "Maximum number of assets to show")
	return cmd
}

func newAssetsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show ASSET_ID",
		Short: "Show the catalog record of one asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := openCatalog(cmd.Context(), ctx)
			if err != nil {
				return err
			}
			return showAsset(cmd.Context(), cmd.OutOrStdout(), catalog, args[0])
		},
	}
}

func openCatalog(cmdCtx context.Context, ctx *commandContext) (assetCatalog, error) {
	cfg := ctx.load()
	if cfg.AWS.DynamoDBTable == "" {
		return nil, errors.New("DYNAMODB_TABLE is not configured")
	}
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	awsCfg, err := storage.LoadAWSConfig(cmdCtx, cfg)
	if err != nil {
		return nil, err
	}
	clients := storage.NewClients(awsCfg, cfg)
	repo, err := storage.NewAssetRepository(clients.DynamoDB, cfg.AWS.DynamoDBTable)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func showAsset(ctx context.Context, w io.Writer, catalog assetCatalog, assetID string) error {
	record, err := catalog.GetAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, models.ErrAssetNotFound) {
			return fmt.Errorf("asset %s: %w", assetID, err)
		}
		return err
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func renderAssets(records []models.AssetRecord) string {
	headers := []string{"Asset", "Status", "Source", "Resolution", "Ladder", "Updated"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		resolution := "-"
		if r.Width > 0 && r.Height > 0 {
			resolution = fmt.Sprintf("%dx%d", r.Width, r.Height)
		}
		status := string(r.Status)
		if r.ErrorMessage != "" {
			status += " (" + r.ErrorMessage + ")"
		}
		ladderNames := "-"
		if names := ladder.Names(r.Ladder); len(names) > 0 {
			ladderNames = strings.Join(names, ",")
		}
		rows = append(rows, []string{r.AssetID, status, r.SourcePath, resolution, ladderNames, r.UpdatedAt})
	}
	return renderTable(headers, rows, aligns)
}
