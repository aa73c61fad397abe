package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/contracts_backend/models"
	"gorm.io/gorm"
)

type jobReader struct {
	db *gorm.DB
}

func (r *jobReader) getJobs(ctx context.Context, ids []int) []*dataloader.Result[*models.Job] {
	var results []models.Job
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Job](len(ids), err)
	}
	return generateLoaderResults(results, ids)
}

func GetJob(ctx context.Context, id int) (*models.Job, error) {
	loaders := For(ctx)
	return loaders.JobLoader.Load(ctx, id)()
}
