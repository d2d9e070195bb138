package models_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/config"
	"bitbucket.org/safeplayhq/inspect_backend/models"
	"bitbucket.org/safeplayhq/inspect_backend/models/exports"
	"bitbucket.org/safeplayhq/inspect_backend/sealing"
	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"bitbucket.org/safeplayhq/inspect_backend/workflow"
	"github.com/sirupsen/logrus"
)

// Regression: the full seal path against real MySQL, Redis and a GCS
// emulator. Two bundles for one tenant must form a verifiable chain: the
// first links to genesis, the second to the first manifest's digest, the
// stored archives verify offline against the key ring, and tombstoning the
// first bundle keeps the chain auditable.
func TestSealChain_TwoBundles_LinkAndVerify(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	gcsName, gcsPort := startFakeGCSContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(gcsName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "safeplay_test")
	t.Setenv("STORAGE_EMULATOR_HOST", fmt.Sprintf("127.0.0.1:%s", gcsPort))
	t.Setenv("GCS_BUCKET", "safeplay-test-bucket")
	t.Setenv("SEAL_SIGNING_KEY_ID", "2025-01")
	t.Setenv("SEAL_SIGNING_KEY", base64.StdEncoding.EncodeToString([]byte("integration-signing-key-32-bytes")))
	t.Setenv("VERIFY_BASE_URL", "https://app.test.local")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	gcsClient, err := utils.GetGCSClient(ctx)
	if err != nil {
		t.Fatalf("storage client: %v", err)
	}
	if err := gcsClient.Bucket("safeplay-test-bucket").Create(ctx, "test-project", nil); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	gcsClient.Close()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetUsernameInContext(ctx, "test@local")

	tenant, err := models.CreateTenant(ctx, &models.NewTenant{
		Name:  "Harlow Parks Trust",
		Email: "ops@harlowparks.test",
	})
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	tenantId := tenant.ID.String()
	ctx = utils.SetTenantIdInContext(ctx, tenantId)

	db := config.GetDB()

	// CreateTenant provisions the owning manager; inspections reference a
	// real user row.
	var manager models.User
	if err := db.WithContext(ctx).Where("username = ?", "ops@harlowparks.test").Take(&manager).Error; err != nil {
		t.Fatalf("lookup default manager: %v", err)
	}

	site, err := models.CreateSite(ctx, &models.NewSite{
		Name:     "Riverside Play Area",
		Code:     "RPA-01",
		Address:  "1 Riverside Walk",
		City:     "Harlow",
		Postcode: "CM20 1AB",
	})
	if err != nil {
		t.Fatalf("CreateSite: %v", err)
	}

	inspection, err := models.CreateInspection(ctx, &models.NewInspection{
		SiteId:         site.ID,
		InspectorId:    manager.ID,
		InspectionType: models.InspectionTypeRoutineVisual,
		InspectionDate: time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC),
		RiskRating:     models.RiskRatingMedium,
		Summary:        "Routine visual check after storm.",
	})
	if err != nil {
		t.Fatalf("CreateInspection: %v", err)
	}

	if _, err := models.CreateDefect(ctx, &models.NewDefect{
		InspectionId:  inspection.ID,
		EquipmentItem: "Swing seat",
		Description:   "Cracked seat edge",
		Location:      "North bay",
		RiskRating:    models.RiskRatingHigh,
	}); err != nil {
		t.Fatalf("CreateDefect: %v", err)
	}

	// Evidence photo lands in the bucket first, then the attachment row.
	photoKey := fmt.Sprintf("%s/uploads/swing.jpg", tenantId)
	photoBytes := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 0x4a, 0x46}
	if err := utils.UploadBytesToGCS(ctx, photoKey, photoBytes, "image/jpeg"); err != nil {
		t.Fatalf("upload evidence: %v", err)
	}
	if _, err := models.CreateAttachmentFromKey(ctx, models.AttachmentKindPhoto,
		"swing.jpg", "image/jpeg", photoKey, "", "inspections", inspection.ID); err != nil {
		t.Fatalf("CreateAttachmentFromKey: %v", err)
	}

	if _, err := models.CompleteInspection(ctx, inspection.ID); err != nil {
		t.Fatalf("CompleteInspection: %v", err)
	}

	logger := logrus.New()

	// First bundle: inspection report with its evidence.
	files, err := exports.AssembleForSeal(ctx, tenantId, models.ExportTypeInspectionReport, &inspection.ID, nil)
	if err != nil {
		t.Fatalf("AssembleForSeal: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("assembled %d files, want report.json + evidence", len(files))
	}

	first, err := workflow.SealExport(ctx, logger, workflow.SealInput{
		TenantId:    tenantId,
		ExportType:  models.ExportTypeInspectionReport,
		SourceId:    &inspection.ID,
		Files:       files,
		GeneratedBy: sealing.GeneratedBy{UserID: 1, DisplayName: "Test"},
	})
	if err != nil {
		t.Fatalf("SealExport(first): %v", err)
	}
	if first.PrevBundleHash != models.ChainGenesis {
		t.Fatalf("first bundle prev = %s, want genesis", first.PrevBundleHash)
	}
	if len(first.ManifestSha256) != 64 {
		t.Fatalf("manifest sha length %d", len(first.ManifestSha256))
	}

	// The stored archive verifies offline with nothing but the key ring.
	ring, err := config.GetSealKeyRing()
	if err != nil {
		t.Fatalf("GetSealKeyRing: %v", err)
	}
	archive, err := utils.DownloadBytesFromGCS(ctx, first.StorageKey)
	if err != nil {
		t.Fatalf("download archive: %v", err)
	}
	if result := sealing.VerifyArchive(archive, ring); !result.Valid {
		t.Fatalf("first archive failed verification: %s %s", result.Reason, result.Detail)
	}

	// Sealing queued exactly one outbox event, still unpublished (no
	// dispatcher in this test).
	outbox, err := models.GetOutboxStatus(ctx, first.BundleId)
	if err != nil {
		t.Fatalf("GetOutboxStatus: %v", err)
	}
	if outbox.PublishStatus != models.OutboxPublishStatusPending {
		t.Fatalf("outbox publish status = %s, want PENDING", outbox.PublishStatus)
	}

	// Second bundle: maintenance log across the tenant.
	logFiles, err := exports.AssembleForSeal(ctx, tenantId, models.ExportTypeMaintenanceLog, nil, nil)
	if err != nil {
		t.Fatalf("AssembleForSeal(maintenance): %v", err)
	}
	second, err := workflow.SealExport(ctx, logger, workflow.SealInput{
		TenantId:    tenantId,
		ExportType:  models.ExportTypeMaintenanceLog,
		Files:       logFiles,
		GeneratedBy: sealing.GeneratedBy{UserID: 1, DisplayName: "Test"},
	})
	if err != nil {
		t.Fatalf("SealExport(second): %v", err)
	}
	if second.PrevBundleHash != first.ManifestSha256 {
		t.Fatalf("second bundle prev = %s, want %s", second.PrevBundleHash, first.ManifestSha256)
	}

	status, err := workflow.AuditTenantChain(ctx, db, tenantId)
	if err != nil {
		t.Fatalf("AuditTenantChain: %v", err)
	}
	if !status.Intact || status.BundleCount != 2 || status.HeadBundleId != second.BundleId {
		t.Fatalf("chain audit = %+v, want intact chain of 2 headed by %s", status, second.BundleId)
	}

	// Tombstoning redacts content but keeps the ledger row; the chain still
	// audits clean and the row reports its redaction.
	tombstoned, err := models.TombstoneSealedExport(ctx, first.BundleId)
	if err != nil {
		t.Fatalf("TombstoneSealedExport: %v", err)
	}
	if tombstoned.TombstonedAt == nil {
		t.Fatal("tombstoned_at not set")
	}
	status, err = workflow.AuditTenantChain(ctx, db, tenantId)
	if err != nil {
		t.Fatalf("AuditTenantChain(after tombstone): %v", err)
	}
	if !status.Intact || status.BundleCount != 2 {
		t.Fatalf("chain audit after tombstone = %+v, want intact chain of 2", status)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("safeplay-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("safeplay-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=safeplay_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

// startFakeGCSContainer runs the GCS emulator. The host port is picked up
// front because the emulator embeds its public host in resumable upload
// URLs; the storage client must reach it at the same address it advertises.
func startFakeGCSContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	port, err := pickFreePort()
	if err != nil {
		t.Fatalf("pick port: %v", err)
	}
	name := fmt.Sprintf("safeplay-test-gcs-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", fmt.Sprintf("127.0.0.1:%s:4443", port),
		"fsouza/fake-gcs-server:1.47.8",
		"-scheme", "http",
		"-port", "4443",
		"-public-host", fmt.Sprintf("127.0.0.1:%s", port),
	)
	if err != nil {
		t.Fatalf("start fake-gcs container: %v\n%s", err, out)
	}
	// The image has no shell; poll the JSON API from the host instead.
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%s/storage/v1/b?project=test-project", port))
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return name, port
			}
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("fake-gcs did not become ready")
	return "", ""
}

func pickFreePort() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer l.Close()
	_, port, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return "", err
	}
	return port, nil
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
