package middlewares

import (
	"context"
	"reflect"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders wrap your data loaders to inject via middleware
type Loaders struct {
	siteLoader       *dataloader.Loader[int, *models.Site]
	userLoader       *dataloader.Loader[int, *models.User]
	inspectionLoader *dataloader.Loader[int, *models.Inspection]

	defectsByInspectionLoader *dataloader.Loader[int, []*models.Defect]

	inspectionAttachmentLoader *dataloader.Loader[int, []*models.Attachment]
	defectAttachmentLoader     *dataloader.Loader[int, []*models.Attachment]
	siteAttachmentLoader       *dataloader.Loader[int, []*models.Attachment]

	allSiteLoader *dataloader.Loader[int, *models.AllSite]
	allUserLoader *dataloader.Loader[int, *models.AllUser]
}

// NewLoaders instantiates data loaders for the middleware
func NewLoaders(conn *gorm.DB) *Loaders {
	// define the data loader
	siteReader := &siteReader{db: conn}
	userReader := &userReader{db: conn}
	inspectionReader := &inspectionReader{db: conn}
	defectReader := &defectReader{db: conn}

	inspectionAttachmentReader := &attachmentReader{db: conn, referenceType: "inspections"}
	defectAttachmentReader := &attachmentReader{db: conn, referenceType: "defects"}
	siteAttachmentReader := &attachmentReader{db: conn, referenceType: "sites"}

	allSiteReader := &allSiteReader{db: conn}
	allUserReader := &allUserReader{db: conn}

	return &Loaders{
		siteLoader:       dataloader.NewBatchedLoader(siteReader.getSites, dataloader.WithWait[int, *models.Site](time.Millisecond)),
		userLoader:       dataloader.NewBatchedLoader(userReader.getUsers, dataloader.WithWait[int, *models.User](time.Millisecond)),
		inspectionLoader: dataloader.NewBatchedLoader(inspectionReader.getInspections, dataloader.WithWait[int, *models.Inspection](time.Millisecond)),

		defectsByInspectionLoader: dataloader.NewBatchedLoader(defectReader.getDefectsByInspection, dataloader.WithWait[int, []*models.Defect](time.Millisecond)),

		inspectionAttachmentLoader: dataloader.NewBatchedLoader(inspectionAttachmentReader.getAttachments, dataloader.WithWait[int, []*models.Attachment](time.Millisecond)),
		defectAttachmentLoader:     dataloader.NewBatchedLoader(defectAttachmentReader.getAttachments, dataloader.WithWait[int, []*models.Attachment](time.Millisecond)),
		siteAttachmentLoader:       dataloader.NewBatchedLoader(siteAttachmentReader.getAttachments, dataloader.WithWait[int, []*models.Attachment](time.Millisecond)),

		allSiteLoader: dataloader.NewBatchedLoader(allSiteReader.getAllSites, dataloader.WithWait[int, *models.AllSite](time.Millisecond)),
		allUserLoader: dataloader.NewBatchedLoader(allUserReader.getAllUsers, dataloader.WithWait[int, *models.AllUser](time.Millisecond)),
	}
}

func LoaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := NewLoaders(config.GetDB())
		ctx := context.WithValue(c.Request.Context(), loadersKey, loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func For(ctx context.Context) *Loaders {
	return ctx.Value(loadersKey).(*Loaders)
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// turns results from db into dataloader results
// (T must be a struct)
func generateLoaderResults[T models.Data](results []T, ids []int) []*dataloader.Result[*T] {
	// generate resultMap from results
	resultMap := make(map[int]T)
	var resultZero T
	resultMap[0] = resultZero.GetDefault(0).(T)
	for _, result := range results {
		resultMap[result.GetId()] = result
	}

	loaderResults := make([]*dataloader.Result[*T], 0, len(ids))
	for _, id := range ids {
		data := resultMap[id]
		if reflect.ValueOf(data).IsZero() {
			data = data.GetDefault(id).(T)
		}
		loaderResults = append(loaderResults, &dataloader.Result[*T]{Data: &data})
	}
	return loaderResults
}

// T must be struct
// each id has many related results
func generateLoaderArrayResults[T models.RelatedData](results []T, referenceIds []int) (loaderResults []*dataloader.Result[[]*T]) {
	resultMap := make(map[int][]*T)
	for _, result := range results {
		// creating a new variable every turn, to avoid pointing to the adddress of result
		copy := result
		resultMap[result.GetReferenceId()] = append(resultMap[result.GetReferenceId()], &copy)
	}
	for _, id := range referenceIds {
		resultArray := resultMap[id]
		loaderResults = append(loaderResults, &dataloader.Result[[]*T]{Data: resultArray})
	}
	return loaderResults
}
