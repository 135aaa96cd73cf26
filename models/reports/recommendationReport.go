package reports

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/inventory_backend/config"
	"github.com/mmdatafocus/inventory_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type RecommendationReportRow struct {
	ProductName     string          `json:"product_name"`
	Sku             string          `json:"sku"`
	Category        string          `json:"category"`
	Action          string          `json:"action"`
	CurrentQty      decimal.Decimal `json:"current_qty"`
	RecommendedQty  int             `json:"recommended_qty"`
	DaysOfCover     float64         `json:"days_of_cover"`
	Urgent          bool            `json:"urgent"`
	Priority        string          `json:"priority"`
	FeedbackStatus  string          `json:"feedback_status"`
	RealizedOutcome *string         `json:"realized_outcome"`
	Justification   string          `json:"justification"`
}

func getRecommendationReport(ctx context.Context, storeId string) ([]*RecommendationReportRow, error) {

	sql := `
SELECT
    p.name AS product_name,
    p.sku,
    p.category,
    r.action,
    r.current_qty,
    r.recommended_qty,
    r.days_of_cover,
    r.urgent,
    r.priority,
    r.feedback_status,
    r.realized_outcome,
    r.justification
FROM
    recommendations r
    LEFT JOIN products p ON p.id = r.product_id AND p.store_id = r.store_id
WHERE
    r.store_id = ?
    AND r.feedback_status <> 'Obsolete'
ORDER BY
    r.urgent DESC, r.priority, r.days_of_cover;
`

	var records []*RecommendationReportRow
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql, storeId).Scan(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

func buildRecommendationWorkbook(rows []*RecommendationReportRow) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := "Recommendations"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	headers := []string{"Product", "SKU", "Category", "Action", "On Hand", "Order Qty",
		"Days of Cover", "Urgent", "Priority", "Feedback", "Outcome", "Justification"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	for i, row := range rows {
		values := []interface{}{
			row.ProductName, row.Sku, row.Category, row.Action,
			row.CurrentQty, row.RecommendedQty,
			fmt.Sprintf("%.1f", row.DaysOfCover), row.Urgent,
			row.Priority, row.FeedbackStatus,
			utils.DereferencePtr(row.RealizedOutcome, ""), row.Justification,
		}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			f.SetCellValue(sheet, cell, v)
		}
	}
	return f, nil
}

// ExportRecommendationExcel streams the store's live recommendations as an
// xlsx download.
func ExportRecommendationExcel(c *gin.Context) {
	storeId := c.Param("storeId")

	rows, err := getRecommendationReport(c.Request.Context(), storeId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	f, err := buildRecommendationWorkbook(rows)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=recommendations_%s.xlsx", storeId))
	if err := f.Write(c.Writer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write file"})
	}
}

// SnapshotRecommendationsToGCS uploads the report workbook to the configured
// bucket, keyed by store and date. Called after a successful nightly run when
// GCS_BUCKET is set.
func SnapshotRecommendationsToGCS(ctx context.Context, storeId string) error {
	rows, err := getRecommendationReport(ctx, storeId)
	if err != nil {
		return err
	}
	f, err := buildRecommendationWorkbook(rows)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return err
	}

	objectName := fmt.Sprintf("recommendations/%s/%s.xlsx", storeId, time.Now().Format("2006-01-02"))
	return utils.SaveObjectToGCS(ctx, objectName,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
