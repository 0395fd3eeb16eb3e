package integration

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"pubranker/internal/app"
	"pubranker/internal/domain"
	"pubranker/internal/infra/postgres"
	infraredis "pubranker/internal/infra/redis"
	"pubranker/internal/storage"
	"pubranker/internal/syncer"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type replica struct {
	store   *postgres.Store
	feed    *infraredis.Feed
	gateway *app.Gateway
	sync    *syncer.Machine
}

func openReplica(t *testing.T, ctx context.Context, dsn, redisAddr, origin string) replica {
	t.Helper()
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	feed, err := infraredis.Dial(ctx, redisAddr, "", 0, origin)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	gateway := app.NewGateway(store, app.WithExporter(feed))
	if err := gateway.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	machine := syncer.New(gateway, syncer.WithDelays(10*time.Millisecond, time.Second, time.Second))

	runCtx, cancel := context.WithCancel(ctx)
	go machine.Run(runCtx, feed.Events())
	t.Cleanup(func() {
		cancel()
		machine.Close()
		gateway.Close()
		_ = feed.Close()
		_ = store.Close()
	})
	return replica{store: store, feed: feed, gateway: gateway, sync: machine}
}

func TestRemoteScoreReachesOtherReplica(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	dsn, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisAddr, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	host := openReplica(t, ctx, dsn, redisAddr, "host-laptop")
	screen := openReplica(t, ctx, dsn, redisAddr, "bar-screen")

	quiz, err := host.gateway.CreateQuiz(ctx, app.QuizInput{Name: "Thursday Quiz", Venue: "The Crown"})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	round, err := host.gateway.AddRound(ctx, quiz.ID, app.RoundInput{Name: "Film"})
	if err != nil {
		t.Fatalf("add round: %v", err)
	}
	var teams []domain.Team
	for _, name := range []string{"Alpha", "Bravo"} {
		team, err := host.gateway.CreateTeam(ctx, app.TeamInput{Name: name, Email: strings.ToLower(name) + "@example.com"})
		if err != nil {
			t.Fatalf("create team: %v", err)
		}
		if err := host.gateway.AddTeam(ctx, quiz.ID, team.ID); err != nil {
			t.Fatalf("add team: %v", err)
		}
		teams = append(teams, team)
	}
	if err := host.gateway.SetScore(ctx, teams[1].ID, round.ID, 8); err != nil {
		t.Fatalf("set score: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		lb, err := screen.gateway.Ranking(ctx, quiz.ID)
		if err == nil && len(lb.Entries) == 2 && lb.Entries[0].TeamName == "Bravo" && lb.Entries[0].Total == 8 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("screen replica never saw the score: %+v err=%v", lb, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	dsn, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()

	ctrl, err := storage.Open(ctx, []storage.Attempt{{Tier: storage.TierRemote, Open: func(ctx context.Context) (storage.Backend, error) {
		store, err := postgres.Open(ctx, dsn)
		return storage.Backend{Store: store}, err
	}}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ctrl.Close()

	limit := 10
	created := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	quiz := domain.Quiz{ID: "q1", Name: "Quiz", Status: domain.QuizActive, TeamIDs: []string{"t2", "t1"}, CreatedAt: created, Date: created}
	rounds := []domain.Round{
		{ID: "r1", QuizID: "q1", Name: "One", MaxPoints: &limit, Order: 0},
		{ID: "r2", QuizID: "q1", Name: "Two", Order: 1, Completed: true},
	}
	for _, team := range []domain.Team{
		{ID: "t1", Name: "Alpha", CreatedAt: created, Scores: []domain.RoundScore{{RoundID: "r1", RoundName: "One", Points: 4}}},
		{ID: "t2", Name: "Bravo", CreatedAt: created.Add(time.Minute), Confirmed: map[string]bool{"q1": true}},
	} {
		if err := ctrl.Store().PutTeam(ctx, team); err != nil {
			t.Fatalf("put team: %v", err)
		}
	}
	if err := ctrl.Store().PutQuiz(ctx, quiz, rounds); err != nil {
		t.Fatalf("put quiz: %v", err)
	}
	if err := ctrl.Store().PutQuiz(ctx, quiz, rounds[:1]); err != nil {
		t.Fatalf("put quiz again: %v", err)
	}

	snap, err := ctrl.Store().Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Quizzes) != 1 || len(snap.Rounds) != 1 {
		t.Fatalf("expected pruned round, got %+v", snap)
	}
	if got := snap.Quizzes[0].TeamIDs; len(got) != 2 || got[0] != "t2" {
		t.Fatalf("link order lost: %v", got)
	}
	if snap.Rounds[0].MaxPoints == nil || *snap.Rounds[0].MaxPoints != 10 {
		t.Fatalf("max points lost: %+v", snap.Rounds[0])
	}
	if len(snap.Teams) != 2 || snap.Teams[0].Scores[0].Points != 4 || !snap.Teams[1].Confirmed["q1"] {
		t.Fatalf("team children lost: %+v", snap.Teams)
	}

	if err := ctrl.Store().DeleteQuiz(ctx, "q1"); err != nil {
		t.Fatalf("delete quiz: %v", err)
	}
	snap, _ = ctrl.Store().Load(ctx)
	if len(snap.Quizzes) != 0 || len(snap.Rounds) != 0 {
		t.Fatalf("delete did not cascade: %+v", snap)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port()), func() {
		_ = container.Terminate(ctx)
	}
}

func requireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
