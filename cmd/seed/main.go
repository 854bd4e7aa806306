package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/hackgods/eventsourced-scheduling/internal/db"
	"github.com/hackgods/eventsourced-scheduling/internal/directory"
	"github.com/hackgods/eventsourced-scheduling/internal/logger"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	_ = godotenv.Load()

	log, err := logger.New(os.Getenv("APP_ENV"))
	if err != nil {
		panic("logger init error: " + err.Error())
	}
	defer log.Sync()
	log.Info("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatal("connect postgres", "error", err)
	}
	defer pool.Close()

	if err := db.EnsureSchema(context.Background(), pool); err != nil {
		log.Fatal("ensure schema", "error", err)
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	dir := directory.NewPgDirectory(pool)

	if err := seedDoctors(context.Background(), dir, faker, log, 100); err != nil {
		log.Fatal("seed doctors", "error", err)
	}
	if err := seedPatients(context.Background(), dir, faker, log, 2000); err != nil {
		log.Fatal("seed patients", "error", err)
	}

	log.Info("seed complete")
}

func seedDoctors(ctx context.Context, dir *directory.PgDirectory, faker *gofakeit.Faker, log *logger.Logger, count int) error {
	log.Info("seeding doctors", "count", count)

	for i := 0; i < count; i++ {
		err := dir.UpsertDoctor(ctx, directory.Doctor{
			ID:        uuid.NewString(),
			Name:      faker.Name(),
			Email:     directory.Optional(faker.Email()),
			Phone:     directory.Optional(faker.Phone()),
			Specialty: directory.Optional(specialties[faker.Number(0, len(specialties)-1)]),
			Available: faker.Bool(),
		})
		if err != nil {
			return err
		}
	}

	log.Info("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, dir *directory.PgDirectory, faker *gofakeit.Faker, log *logger.Logger, count int) error {
	log.Info("seeding patients", "count", count)

	const progressEvery = 500

	for i := 1; i <= count; i++ {
		p := directory.Patient{
			ID:    uuid.NewString(),
			Name:  faker.Name(),
			Email: directory.Optional(faker.Email()),
		}
		// roughly a third of patients have no phone on file
		if faker.Number(0, 2) > 0 {
			p.Phone = directory.Optional(faker.Phone())
		}
		if err := dir.UpsertPatient(ctx, p); err != nil {
			return err
		}
		if i%progressEvery == 0 || i == count {
			log.Info("patients seeded", "done", i, "total", count)
		}
	}

	log.Info("patients seeded")
	return nil
}
