package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hackgods/eventsourced-scheduling/internal/config"
	"github.com/hackgods/eventsourced-scheduling/internal/db"
	"github.com/hackgods/eventsourced-scheduling/internal/directory"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	CreateRatio  float64
	CommandRatio float64
	VisioRatio   float64
	ReadRatio    float64
	PatientLimit int
	DoctorLimit  int
	PostgresDSN  string
}

type DataPool struct {
	Patients     []string
	Doctors      []string
	mu           sync.RWMutex
	appointments []string
}

func (dp *DataPool) AddAppointment(id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return "", false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	lo = latencies[0]
	hi = latencies[len(latencies)-1]
	p50 = percentile(latencies, 50)
	p95 = percentile(latencies, 95)
	return avg, lo, hi, p50, p95
}

func percentile(sorted []time.Duration, p int) time.Duration {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type Metrics struct {
	Create        OperationMetrics
	Confirm       OperationMetrics
	Cancel        OperationMetrics
	ReadByID      OperationMetrics
	ListByPatient OperationMetrics
	ListByDoctor  OperationMetrics
	Visio         OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     *logger.Logger
	metrics Metrics
}

func main() {
	log, err := logger.New(os.Getenv("APP_ENV"))
	if err != nil {
		panic("logger init error: " + err.Error())
	}
	defer log.Sync()
	log.Info("simulator starting")

	cfg := loadConfig(log)
	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid config", "error", err)
	}

	log.Info("simulation config",
		"duration", cfg.Duration, "workers", cfg.Workers,
		"create", cfg.CreateRatio, "command", cfg.CommandRatio, "visio", cfg.VisioRatio, "read", cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", "error", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, directory.NewPgDirectory(pgPool), cfg)
	if err != nil {
		log.Fatal("load data pool", "error", err)
	}
	log.Info("data pool loaded", "patients", len(dataPool.Patients), "doctors", len(dataPool.Doctors))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig(log *logger.Logger) SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load base config", "error", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		CreateRatio:  getFloat("SIM_CREATE_RATIO", 0.4),
		CommandRatio: getFloat("SIM_COMMAND_RATIO", 0.2),
		VisioRatio:   getFloat("SIM_VISIO_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 2000),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 100),
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	total := cfg.CreateRatio + cfg.CommandRatio + cfg.VisioRatio + cfg.ReadRatio
	if total > 0 {
		cfg.CreateRatio /= total
		cfg.CommandRatio /= total
		cfg.VisioRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, dir *directory.PgDirectory, cfg SimConfig) (*DataPool, error) {
	patients, err := dir.ListPatientIDs(ctx, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	doctors, err := dir.ListDoctorIDs(ctx, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	if len(patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run the seed command first")
	}
	if len(doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded, run the seed command first")
	}
	return &DataPool{Patients: patients, Doctors: doctors}, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation", "duration", s.config.Duration, "workers", s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.CreateRatio:
			s.doCreate(ctx, rng)
		case r < s.config.CreateRatio+s.config.CommandRatio:
			if rng.Intn(4) == 0 {
				s.doCancel(ctx, rng)
			} else {
				s.doConfirm(ctx, rng)
			}
		case r < s.config.CreateRatio+s.config.CommandRatio+s.config.VisioRatio:
			s.doVisio(ctx, rng)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doReadByID(ctx, rng)
			case 1:
				s.doList(ctx, &s.metrics.ListByPatient, "patientId", s.pool.Patients[rng.Intn(len(s.pool.Patients))])
			case 2:
				s.doList(ctx, &s.metrics.ListByDoctor, "doctorId", s.pool.Doctors[rng.Intn(len(s.pool.Doctors))])
			}
		}
	}
}

func (s *Simulator) doCreate(ctx context.Context, rng *rand.Rand) {
	start := time.Now().Add(time.Duration(1+rng.Intn(24*14)) * time.Hour).Truncate(time.Hour)
	body, _ := json.Marshal(map[string]any{
		"title":     "Consultation",
		"startDate": start,
		"endDate":   start.Add(30 * time.Minute),
		"patientId": s.pool.Patients[rng.Intn(len(s.pool.Patients))],
		"doctorId":  s.pool.Doctors[rng.Intn(len(s.pool.Doctors))],
	})

	var created struct {
		ID string `json:"id"`
	}
	status, latency := s.send(ctx, http.MethodPost, "/appointments", body, &created)
	if status == http.StatusCreated && created.ID != "" {
		s.pool.AddAppointment(created.ID)
	}
	s.metrics.Create.Record(latency, status)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	status, latency := s.send(ctx, http.MethodPost, "/appointments/"+id+"/confirm", nil, nil)
	s.metrics.Confirm.Record(latency, status)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	body, _ := json.Marshal(map[string]string{"reason": "simulated cancellation"})
	status, latency := s.send(ctx, http.MethodPost, "/appointments/"+id+"/cancel", body, nil)
	s.metrics.Cancel.Record(latency, status)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	status, latency := s.send(ctx, http.MethodGet, "/appointments/"+id, nil, nil)
	s.metrics.ReadByID.Record(latency, status)
}

func (s *Simulator) doList(ctx context.Context, om *OperationMetrics, filter, id string) {
	status, latency := s.send(ctx, http.MethodGet, "/appointments?"+filter+"="+id, nil, nil)
	om.Record(latency, status)
}

// doVisio runs a two-party consultation: the doctor hosts, the patient is
// invited, both get links and the call goes live. The latency recorded is
// the whole sequence; the first non-2xx status stops it.
func (s *Simulator) doVisio(ctx context.Context, rng *rand.Rand) {
	start := time.Now()
	status := s.visioFlow(ctx, s.pool.Doctors[rng.Intn(len(s.pool.Doctors))], s.pool.Patients[rng.Intn(len(s.pool.Patients))])
	s.metrics.Visio.Record(time.Since(start), status)
}

func (s *Simulator) visioFlow(ctx context.Context, doctorID, patientID string) int {
	body, _ := json.Marshal(map[string]any{"configuration": map[string]any{"maxParticipants": 2}})
	var created struct {
		ID string `json:"id"`
	}
	status, _ := s.send(ctx, http.MethodPost, "/visios", body, &created)
	if status != http.StatusCreated || created.ID == "" {
		return status
	}
	base := "/visios/" + created.ID

	participants := []struct {
		id, typ string
		host    bool
	}{
		{doctorID, "INTERNAL", true},
		{patientID, "EXTERNAL", false},
	}
	for _, p := range participants {
		body, _ := json.Marshal(map[string]any{"participantId": p.id, "type": p.typ, "isHost": p.host})
		if status, _ = s.send(ctx, http.MethodPost, base+"/participants", body, nil); status >= 300 {
			return status
		}
		if status, _ = s.send(ctx, http.MethodPost, base+"/participants/"+p.id+"/link", nil, nil); status >= 300 {
			return status
		}
		if status, _ = s.send(ctx, http.MethodPost, base+"/participants/"+p.id+"/connect", nil, nil); status >= 300 {
			return status
		}
	}
	for _, step := range []string{"start", "activate", "end"} {
		if status, _ = s.send(ctx, http.MethodPost, base+"/"+step, nil, nil); status >= 300 {
			return status
		}
	}
	return status
}

// send returns 0 as the status when the request never got a response.
func (s *Simulator) send(ctx context.Context, method, path string, body []byte, out any) (int, time.Duration) {
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, 0
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency
	}
	defer resp.Body.Close()

	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, latency
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Create", &s.metrics.Create)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
	printOperationReport("List by Doctor", &s.metrics.ListByDoctor)
	printOperationReport("Visio session", &s.metrics.Visio)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
