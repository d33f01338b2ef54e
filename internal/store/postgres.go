package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, roles, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Roles,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, roles, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Roles, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- ML Results ---

const mlResultColumns = `id, farm_id, flight_id, layer_id, job_id, model_id, image_filename,
	result_data, processing_time_seconds, analyzed_at`

func scanMLResult(row pgx.Row) (*models.CachedResult, error) {
	var r models.CachedResult
	err := row.Scan(&r.ID, &r.FarmID, &r.FlightID, &r.LayerID, &r.JobID, &r.ModelID,
		&r.ImageFilename, &r.ResultData, &r.ProcessingTimeSeconds, &r.AnalyzedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateMLResult(ctx context.Context, r *models.CachedResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ml_results (`+mlResultColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.FarmID, r.FlightID, r.LayerID, r.JobID, r.ModelID, r.ImageFilename,
		r.ResultData, r.ProcessingTimeSeconds, r.AnalyzedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create ml result: %w", err)
	}
	return nil
}

// GetLatestMLResult returns the most recently analyzed result for a flight and model.
func (s *PostgresStore) GetLatestMLResult(ctx context.Context, flightID uuid.UUID, modelID string) (*models.CachedResult, error) {
	r, err := scanMLResult(s.pool.QueryRow(ctx,
		`SELECT `+mlResultColumns+` FROM ml_results
		 WHERE flight_id = $1 AND model_id = $2
		 ORDER BY analyzed_at DESC LIMIT 1`, flightID, modelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest ml result: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListMLResultsByFarm(ctx context.Context, farmID uuid.UUID, modelID string) ([]*models.CachedResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+mlResultColumns+` FROM ml_results
		 WHERE farm_id = $1 AND model_id = $2
		 ORDER BY analyzed_at DESC`, farmID, modelID)
	if err != nil {
		return nil, fmt.Errorf("list ml results: %w", err)
	}
	defer rows.Close()

	results := []*models.CachedResult{}
	for rows.Next() {
		r, err := scanMLResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ml result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Farms ---

const farmColumns = `id, name, owner_key_id, boundary, area_hectares, agromonitoring_id,
	created_at, updated_at`

func scanFarm(row pgx.Row) (*models.Farm, error) {
	var f models.Farm
	err := row.Scan(&f.ID, &f.Name, &f.OwnerKeyID, &f.Boundary, &f.AreaHectares,
		&f.AgroPolygonID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *PostgresStore) CreateFarm(ctx context.Context, f *models.Farm) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO farms (`+farmColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.ID, f.Name, f.OwnerKeyID, f.Boundary, f.AreaHectares, f.AgroPolygonID,
		f.CreatedAt, f.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create farm: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFarm(ctx context.Context, id uuid.UUID) (*models.Farm, error) {
	f, err := scanFarm(s.pool.QueryRow(ctx,
		`SELECT `+farmColumns+` FROM farms WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get farm: %w", err)
	}
	return f, nil
}

// ListFarmsByOwner returns the farms registered by one key, newest first.
func (s *PostgresStore) ListFarmsByOwner(ctx context.Context, ownerKeyID uuid.UUID) ([]*models.Farm, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+farmColumns+` FROM farms
		 WHERE owner_key_id = $1 ORDER BY created_at DESC`, ownerKeyID)
	if err != nil {
		return nil, fmt.Errorf("list farms: %w", err)
	}
	defer rows.Close()

	farms := []*models.Farm{}
	for rows.Next() {
		f, err := scanFarm(rows)
		if err != nil {
			return nil, fmt.Errorf("scan farm: %w", err)
		}
		farms = append(farms, f)
	}
	return farms, rows.Err()
}

func (s *PostgresStore) SetFarmPolygonID(ctx context.Context, id uuid.UUID, polygonID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE farms SET agromonitoring_id = $2, updated_at = NOW() WHERE id = $1`, id, polygonID)
	if err != nil {
		return fmt.Errorf("set farm polygon: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Flights ---

const flightColumns = `id, farm_id, flight_date, pilot_name, drone_model, altitude_meters,
	storage_location, status, created_at`

func scanFlight(row pgx.Row) (*models.Flight, error) {
	var f models.Flight
	err := row.Scan(&f.ID, &f.FarmID, &f.FlightDate, &f.PilotName, &f.DroneModel,
		&f.AltitudeMeters, &f.StorageLocation, &f.Status, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	f.Layers = []models.ImageryLayer{}
	return &f, nil
}

// GetFlight returns a flight with its layers attached.
func (s *PostgresStore) GetFlight(ctx context.Context, id uuid.UUID) (*models.Flight, error) {
	f, err := scanFlight(s.pool.QueryRow(ctx,
		`SELECT `+flightColumns+` FROM drone_flights WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flight: %w", err)
	}
	if err := s.attachLayers(ctx, []*models.Flight{f}); err != nil {
		return nil, err
	}
	return f, nil
}

// ListFlightsByFarm returns a farm's flights newest first, each with its
// layers. A non-nil date keeps only the flight on that day.
func (s *PostgresStore) ListFlightsByFarm(ctx context.Context, farmID uuid.UUID, date *time.Time) ([]*models.Flight, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+flightColumns+` FROM drone_flights
		 WHERE farm_id = $1 AND ($2::date IS NULL OR flight_date = $2::date)
		 ORDER BY flight_date DESC, created_at DESC`, farmID, date)
	if err != nil {
		return nil, fmt.Errorf("list flights: %w", err)
	}
	defer rows.Close()

	flights := []*models.Flight{}
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flight: %w", err)
		}
		flights = append(flights, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list flights: %w", err)
	}

	if err := s.attachLayers(ctx, flights); err != nil {
		return nil, err
	}
	return flights, nil
}

func (s *PostgresStore) attachLayers(ctx context.Context, flights []*models.Flight) error {
	if len(flights) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(flights))
	byID := make(map[uuid.UUID]*models.Flight, len(flights))
	for i, f := range flights {
		ids[i] = f.ID
		byID[f.ID] = f
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+layerColumns+` FROM drone_imagery_layers
		 WHERE flight_id = ANY($1) ORDER BY layer_type`, ids)
	if err != nil {
		return fmt.Errorf("list layers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanLayer(rows)
		if err != nil {
			return fmt.Errorf("scan layer: %w", err)
		}
		if f, ok := byID[l.FlightID]; ok {
			f.Layers = append(f.Layers, *l)
		}
	}
	return rows.Err()
}

// GetOrCreateFlight returns the farm's flight on tmpl.FlightDate, inserting
// tmpl when there is none. The unique (farm_id, flight_date) index makes
// concurrent callers converge on one row. The no-op update lets RETURNING
// yield the existing row on conflict. Layers are not attached.
func (s *PostgresStore) GetOrCreateFlight(ctx context.Context, tmpl *models.Flight) (*models.Flight, error) {
	id := tmpl.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := tmpl.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	storage := tmpl.StorageLocation
	if storage == "" {
		storage = models.StorageLocal
	}

	f, err := scanFlight(s.pool.QueryRow(ctx,
		`INSERT INTO drone_flights (`+flightColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (farm_id, flight_date) DO UPDATE SET farm_id = EXCLUDED.farm_id
		 RETURNING `+flightColumns,
		id, tmpl.FarmID, tmpl.FlightDate, tmpl.PilotName, tmpl.DroneModel, tmpl.AltitudeMeters,
		storage, tmpl.Status, createdAt))
	if err != nil {
		return nil, fmt.Errorf("get or create flight: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) UpdateFlightStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE drone_flights SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update flight status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Imagery Layers ---

const layerColumns = `id, flight_id, layer_type, filename, file_size_bytes, crs, bounds,
	statistics, is_band, band_number, created_at`

func scanLayer(row pgx.Row) (*models.ImageryLayer, error) {
	var l models.ImageryLayer
	err := row.Scan(&l.ID, &l.FlightID, &l.LayerType, &l.Filename, &l.FileSizeBytes,
		&l.CRS, &l.Bounds, &l.Statistics, &l.IsBand, &l.BandNumber, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// UpsertLayer inserts the layer or replaces the existing one with the same
// (flight_id, layer_type), returning the stored row.
func (s *PostgresStore) UpsertLayer(ctx context.Context, l *models.ImageryLayer) (*models.ImageryLayer, error) {
	out, err := scanLayer(s.pool.QueryRow(ctx,
		`INSERT INTO drone_imagery_layers (`+layerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (flight_id, layer_type) DO UPDATE SET
		   filename = EXCLUDED.filename,
		   file_size_bytes = EXCLUDED.file_size_bytes,
		   crs = EXCLUDED.crs,
		   bounds = EXCLUDED.bounds,
		   statistics = EXCLUDED.statistics,
		   is_band = EXCLUDED.is_band,
		   band_number = EXCLUDED.band_number
		 RETURNING `+layerColumns,
		l.ID, l.FlightID, l.LayerType, l.Filename, l.FileSizeBytes, l.CRS, l.Bounds,
		l.Statistics, l.IsBand, l.BandNumber, l.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("upsert layer: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetLayer(ctx context.Context, id uuid.UUID) (*models.ImageryLayer, error) {
	l, err := scanLayer(s.pool.QueryRow(ctx,
		`SELECT `+layerColumns+` FROM drone_imagery_layers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get layer: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) DeleteLayer(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM drone_imagery_layers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete layer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Processing Jobs ---

const processingColumns = `id, flight_id, status, progress, images_count, webodm_project_id,
	webodm_task_id, processing_time, outputs, error_message, created_at, updated_at, completed_at`

func scanProcessingJob(row pgx.Row) (*models.ProcessingJob, error) {
	var j models.ProcessingJob
	err := row.Scan(&j.ID, &j.FlightID, &j.Status, &j.Progress, &j.ImagesCount,
		&j.WebODMProjectID, &j.WebODMTaskID, &j.ProcessingTime, &j.Outputs,
		&j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateProcessingJob(ctx context.Context, j *models.ProcessingJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processing_jobs (id, flight_id, status, progress, images_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		j.ID, j.FlightID, j.Status, j.Progress, j.ImagesCount, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create processing job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProcessingJob(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	j, err := scanProcessingJob(s.pool.QueryRow(ctx,
		`SELECT `+processingColumns+` FROM processing_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get processing job: %w", err)
	}
	return j, nil
}

// ListActiveProcessingJobs returns the farm's jobs that have not yet finished.
func (s *PostgresStore) ListActiveProcessingJobs(ctx context.Context, farmID uuid.UUID) ([]*models.ProcessingJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.flight_id, p.status, p.progress, p.images_count, p.webodm_project_id,
		        p.webodm_task_id, p.processing_time, p.outputs, p.error_message,
		        p.created_at, p.updated_at, p.completed_at
		 FROM processing_jobs p JOIN drone_flights f ON f.id = p.flight_id
		 WHERE f.farm_id = $1 AND p.status = ANY($2)
		 ORDER BY p.created_at DESC`, farmID, models.ActiveProcessingStatuses)
	if err != nil {
		return nil, fmt.Errorf("list processing jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.ProcessingJob{}
	for rows.Next() {
		j, err := scanProcessingJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan processing job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ListUnfinishedProcessingJobs returns every job, on any farm, that has not
// completed or failed, oldest first.
func (s *PostgresStore) ListUnfinishedProcessingJobs(ctx context.Context) ([]*models.ProcessingJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+processingColumns+` FROM processing_jobs
		 WHERE status = ANY($1) ORDER BY created_at`, models.ActiveProcessingStatuses)
	if err != nil {
		return nil, fmt.Errorf("list unfinished processing jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.ProcessingJob{}
	for rows.Next() {
		j, err := scanProcessingJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan processing job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func isTerminalProcessingStatus(status string) bool {
	return status == models.ProcessingStatusCompleted || status == models.ProcessingStatusFailed
}

// UpdateProcessingJob moves a job to status and applies opts. Jobs that have
// already completed or failed are frozen.
func (s *PostgresStore) UpdateProcessingJob(ctx context.Context, id uuid.UUID, status string, opts ...ProcessingUpdateOption) error {
	params := ApplyProcessingUpdate(opts...)

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM processing_jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get processing job status: %w", err)
	}
	if isTerminalProcessingStatus(currentStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE processing_jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if isTerminalProcessingStatus(status) {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.Progress != nil {
		query += fmt.Sprintf(", progress = $%d", argIdx)
		args = append(args, *params.Progress)
		argIdx++
	}
	if params.ProjectID != nil {
		query += fmt.Sprintf(", webodm_project_id = $%d, webodm_task_id = $%d", argIdx, argIdx+1)
		args = append(args, *params.ProjectID, *params.TaskID)
		argIdx += 2
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.Outputs != nil {
		query += fmt.Sprintf(", outputs = $%d, processing_time = $%d", argIdx, argIdx+1)
		args = append(args, params.Outputs, *params.ProcessingTime)
	}

	query += " WHERE id = $1"

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update processing job: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}
