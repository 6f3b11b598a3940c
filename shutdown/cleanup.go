package shutdown

import (
	"context"
	"os"
	"path/filepath"

	"remix_backend/core"

	"go.uber.org/zap"
)

// stagePatterns lists the intermediate image stages whose mirrored PNG
// files are transient. Final composites are kept so the user's output
// survives a restart.
var stagePatterns = []core.ImageStage{
	core.StageUpload,
	core.StageCutout,
	core.StageCrop,
	core.StageRemix,
	core.StageBackground,
	core.StageStitch,
}

// CleanupStagedImages returns a shutdown function that removes
// intermediate stage images ("upload-*.png", "crop-*.png" and so on)
// from the downloads directory, keeping final composites.
//
// Priority recommendation: 40+ (final cleanup, after services stopped)
//
// Individual removal failures are logged and skipped; the function
// returns nil so cleanup never blocks shutdown.
//
// Usage:
//
//	manager.Register("cleanup-images", 45, shutdown.CleanupStagedImages(logger, cfg.DownloadsDir))
func CleanupStagedImages(logger *zap.Logger, downloadsDir string) core.ShutdownFunc {
	return func(ctx context.Context) error {
		return cleanupStageFiles(ctx, logger, downloadsDir)
	}
}

// CleanupAllImages returns a shutdown function that removes every staged
// image AND the downloads directory itself. Use this when the directory
// is purely transient and should not persist between runs.
//
// Priority recommendation: 45+ (very final cleanup)
func CleanupAllImages(logger *zap.Logger, downloadsDir string) core.ShutdownFunc {
	return func(ctx context.Context) error {
		if err := cleanupStageFiles(ctx, logger, downloadsDir); err != nil {
			logger.Warn("Error during staged image cleanup, continuing with directory removal",
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			logger.Warn("Shutdown context cancelled, skipping directory removal")
			return nil
		default:
		}

		if err := os.RemoveAll(downloadsDir); err != nil {
			logger.Error("Failed to remove downloads directory",
				zap.String("directory", downloadsDir),
				zap.Error(err),
			)
			return nil
		}

		logger.Info("Removed downloads directory",
			zap.String("directory", downloadsDir),
		)
		return nil
	}
}

// cleanupStageFiles removes intermediate stage PNGs from the downloads
// directory. Returns nil even if some files fail to delete.
func cleanupStageFiles(ctx context.Context, logger *zap.Logger, downloadsDir string) error {
	logger.Debug("Starting staged image cleanup",
		zap.String("directory", downloadsDir),
	)

	removed := 0
	for _, stage := range stagePatterns {
		select {
		case <-ctx.Done():
			logger.Warn("Shutdown context cancelled during image cleanup",
				zap.Int("removed", removed),
			)
			return nil
		default:
		}

		pattern := filepath.Join(downloadsDir, string(stage)+"-*.png")
		matches, err := filepath.Glob(pattern)
		if err != nil {
			logger.Error("Failed to list staged images",
				zap.String("pattern", pattern),
				zap.Error(err),
			)
			continue
		}

		for _, path := range matches {
			if err := os.Remove(path); err != nil {
				logger.Warn("Failed to remove staged image",
					zap.String("path", path),
					zap.Error(err),
				)
				continue
			}
			removed++
		}
	}

	logger.Info("Staged image cleanup complete",
		zap.Int("removed", removed),
	)
	return nil
}
