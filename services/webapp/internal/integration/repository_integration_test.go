//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/grigta/webportal/pkg/cache"
	"github.com/grigta/webportal/pkg/database"
	"github.com/grigta/webportal/pkg/messaging"
	"github.com/grigta/webportal/pkg/models"
	"github.com/grigta/webportal/pkg/schema"
	"github.com/grigta/webportal/pkg/testutil"
	"github.com/grigta/webportal/services/webapp/internal/repository"
	"github.com/grigta/webportal/services/webapp/internal/service"
)

type RepositoryIntegrationSuite struct {
	suite.Suite
	ctx      context.Context
	cancel   context.CancelFunc
	infra    *testutil.Infrastructure
	provider *database.Provider
	db       *database.MongoDB
	registry *schema.Registry
	mq       *messaging.RabbitMQ
	repo     *repository.Repository
}

func (s *RepositoryIntegrationSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)

	var err error
	s.infra, err = testutil.StartInfrastructure(s.ctx, testutil.DefaultContainerConfig())
	s.Require().NoError(err, "failed to start containers")

	s.provider = database.NewProvider("webportal_test", 10*time.Second, false)
	s.db, err = s.provider.Connection(s.ctx, s.infra.MongoDB.URI, 0)
	s.Require().NoError(err)

	s.registry, err = models.NewRegistry()
	s.Require().NoError(err)
	s.Require().NoError(s.registry.EnsureIndexes(s.ctx, s.db))

	s.mq, err = messaging.NewRabbitMQ(s.infra.RabbitMQ.URI)
	s.Require().NoError(err)
	s.Require().NoError(s.mq.SetupTopology())

	log, _ := testutil.NewQuietLogger()
	s.repo = repository.New(s.db, s.registry,
		repository.WithPublisher(s.mq),
		repository.WithMetrics(repository.NewMetrics(prometheus.NewRegistry())),
		repository.WithLogger(log),
	)
}

func (s *RepositoryIntegrationSuite) TearDownSuite() {
	if s.mq != nil {
		_ = s.mq.Close()
	}
	if s.provider != nil {
		_ = s.provider.Close(context.Background())
	}
	if s.infra != nil {
		_ = s.infra.Close(context.Background())
	}
	s.cancel()
}

func (s *RepositoryIntegrationSuite) SetupTest() {
	for _, coll := range s.registry.Collections() {
		_, err := s.db.DeleteMany(s.ctx, coll, bson.M{})
		s.Require().NoError(err)
	}
}

func (s *RepositoryIntegrationSuite) TestProviderReturnsSameConnection() {
	again, err := s.provider.Connection(s.ctx, "mongodb://elsewhere:1", 1)
	s.Require().NoError(err)
	s.Same(s.db, again)
	s.NoError(again.Ping(s.ctx))
}

func (s *RepositoryIntegrationSuite) TestCreateAndDuplicate() {
	res, err := s.repo.Create(s.ctx, "User", testutil.UserFields("ann@example.com", "ann"))
	s.Require().NoError(err)
	s.Require().True(res.OK(), "%v", res.Errors)

	user := res.Docs[0].(*models.User)
	s.False(user.ID.IsZero())
	s.False(user.CreatedAt.IsZero())

	_, err = s.repo.Create(s.ctx, "user", testutil.UserFields("ann@example.com", "ann2"))
	s.ErrorIs(err, repository.ErrDuplicateKey)

	res, err = s.repo.Create(s.ctx, "user", testutil.UserFields("not-an-email", "bob"))
	s.Require().NoError(err)
	s.False(res.OK())
	s.Equal("user", res.Errors[0].Condition)
}

func (s *RepositoryIntegrationSuite) TestCreateManyAggregatesFailures() {
	res, err := s.repo.CreateMany(s.ctx, models.EnrichmentSourceCollection, []bson.M{
		testutil.SourceFields("geo", "api", 1),
		testutil.SourceFields("geo", "api", 2),
		testutil.SourceFields("dump", "file", 3),
	})
	s.Require().NoError(err)
	s.False(res.OK())
	s.Len(res.Docs, 2)
	s.Len(res.Errors, 1)

	n, err := s.repo.Count(s.ctx, models.EnrichmentSourceCollection, bson.M{})
	s.Require().NoError(err)
	s.EqualValues(2, n)
}

func (s *RepositoryIntegrationSuite) TestReadsAndSorting() {
	_, err := s.repo.CreateMany(s.ctx, models.EnrichmentSourceCollection, []bson.M{
		testutil.SourceFields("a", "api", 5),
		testutil.SourceFields("b", "feed", 9),
		testutil.SourceFields("c", "file", 1),
	})
	s.Require().NoError(err)

	docs, err := s.repo.SortedRead(s.ctx, models.EnrichmentSourceCollection, bson.M{}, []repository.SortField{{Field: "priority", Direction: -1}})
	s.Require().NoError(err)
	s.Require().Len(docs, 3)
	s.Equal("b", docs[0]["name"])
	s.Equal("c", docs[2]["name"])

	ids, err := s.repo.ReadDB(s.ctx, models.EnrichmentSourceCollection, bson.M{"kind": "api"}, nil)
	s.Require().NoError(err)
	s.Require().Len(ids, 1)
	s.Len(ids[0], 1)

	single, err := s.repo.ReadDBSingle(s.ctx, models.EnrichmentSourceCollection, bson.M{"name": "a"}, nil)
	s.Require().NoError(err)
	s.NotContains(single, "_id")

	_, err = s.repo.ReadDBSingle(s.ctx, models.EnrichmentSourceCollection, bson.M{"name": "zzz"}, nil)
	s.ErrorIs(err, database.ErrNotFound)
}

func (s *RepositoryIntegrationSuite) TestUpdateVariants() {
	_, err := s.repo.CreateMany(s.ctx, models.EnrichmentSourceCollection, []bson.M{
		testutil.SourceFields("a", "api", 1),
		testutil.SourceFields("b", "api", 1),
	})
	s.Require().NoError(err)

	res, err := s.repo.Update(s.ctx, models.EnrichmentSourceCollection, []repository.UpdateItem{
		{Condition: bson.M{"name": "a"}, Doc: bson.M{"priority": 4}},
		{Condition: bson.M{"name": "missing"}, Doc: bson.M{"priority": 4}},
	}, repository.UpdateOptions{})
	s.Require().NoError(err)
	s.Len(res.Docs, 1)
	s.Require().Len(res.Errors, 1)
	s.Equal("not found", res.Errors[0].Msg)

	res, err = s.repo.Update(s.ctx, models.EnrichmentSourceCollection, []repository.UpdateItem{
		{Condition: bson.M{"kind": "api"}, Doc: bson.M{"enabled": false}},
	}, repository.UpdateOptions{Multi: true})
	s.Require().NoError(err)
	s.True(res.OK())
	s.EqualValues(2, res.Modified)

	res, err = s.repo.Update(s.ctx, models.EnrichmentSourceCollection, []repository.UpdateItem{
		{Condition: bson.M{"kind": "api"}, Doc: bson.M{"priority": -1}},
	}, repository.UpdateOptions{Multi: true})
	s.Require().NoError(err)
	s.False(res.OK())

	res, err = s.repo.UpdatePush(s.ctx, models.EnrichmentSourceCollection, bson.M{"name": "a"}, bson.M{"tags": "geo", "_id": "ignored"})
	s.Require().NoError(err)
	s.True(res.OK())

	res, err = s.repo.UpdatePull(s.ctx, models.EnrichmentSourceCollection, bson.M{}, bson.M{"tags": "geo"}, false)
	s.Require().NoError(err)
	s.True(res.OK())

	doc, err := s.repo.ReadOne(s.ctx, models.EnrichmentSourceCollection, bson.M{"name": "a"})
	s.Require().NoError(err)
	source := doc.(*models.EnrichmentSource)
	s.Equal(4, source.Priority)
	s.False(source.Enabled)
	s.Empty(source.Tags)
}

func (s *RepositoryIntegrationSuite) TestDeletePublishesEvents() {
	queue := "integration.deleted"
	eventType := repository.EventType(models.EnrichmentSourceCollection, "deleted")

	_, err := s.mq.DeclareQueue(queue, false, true, false)
	s.Require().NoError(err)
	s.Require().NoError(s.mq.BindQueue(queue, eventType, messaging.EventsExchange))

	received := make(chan []byte, 1)
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	s.Require().NoError(s.mq.ConsumeWithHandler(ctx, queue, "integration", func(body []byte) error {
		received <- body
		return nil
	}))

	_, err = s.repo.Create(s.ctx, models.EnrichmentSourceCollection, testutil.SourceFields("gone", "api", 1))
	s.Require().NoError(err)

	res, err := s.repo.Delete(s.ctx, models.EnrichmentSourceCollection, bson.M{"name": "gone"})
	s.Require().NoError(err)
	s.Len(res.Docs, 1)

	select {
	case body := <-received:
		var msg messaging.Message
		s.Require().NoError(json.Unmarshal(body, &msg))
		s.Equal(eventType, msg.Type)
	case <-time.After(10 * time.Second):
		s.Fail("no delete event received")
	}
}

func (s *RepositoryIntegrationSuite) TestRename() {
	_, err := s.repo.CreateMany(s.ctx, models.EnrichmentSourceCollection, []bson.M{
		testutil.SourceFields("a", "api", 1),
		testutil.SourceFields("b", "api", 2),
	})
	s.Require().NoError(err)
	_, err = s.repo.Create(s.ctx, models.PreviousEnrichmentSourceCollection, testutil.SourceFields("stale", "api", 1))
	s.Require().NoError(err)

	res, err := s.repo.Rename(s.ctx, models.EnrichmentSourceCollection, models.PreviousEnrichmentSourceCollection)
	s.Require().NoError(err)
	s.Equal(1, res.OK)

	n, err := s.repo.Count(s.ctx, models.EnrichmentSourceCollection, bson.M{})
	s.Require().NoError(err)
	s.Zero(n)

	docs, err := s.repo.Read(s.ctx, models.PreviousEnrichmentSourceCollection, bson.M{})
	s.Require().NoError(err)
	s.Len(docs, 2)

	res, err = s.repo.Rename(s.ctx, models.EnrichmentSourceCollection, models.PreviousEnrichmentSourceCollection)
	s.Require().NoError(err)
	s.Equal(0, res.OK)
	s.Equal("collection enrichmentsource not found", res.ErrMsg)

	n, err = s.repo.Count(s.ctx, models.PreviousEnrichmentSourceCollection, bson.M{})
	s.Require().NoError(err)
	s.EqualValues(2, n)
}

func (s *RepositoryIntegrationSuite) TestUserServiceAgainstRedis() {
	redisCache, err := cache.NewRedisCache(s.ctx, s.infra.Redis.Host, s.infra.Redis.Port, "", 0)
	s.Require().NoError(err)
	defer redisCache.Close()

	log, _ := testutil.NewQuietLogger()
	users := service.NewUserService(s.repo, redisCache, time.Minute, log)

	registered, err := users.Register(s.ctx, models.RegisterRequest{Email: "Cid@Example.com", Username: "cid", Password: "secret123"})
	s.Require().NoError(err)
	s.Equal("cid@example.com", registered.Email)

	loggedIn, err := users.Login(s.ctx, models.LoginRequest{Email: "cid@example.com", Password: "secret123"})
	s.Require().NoError(err)
	s.NotNil(loggedIn.LastLoginAt)

	loaded, err := users.LoadUser(s.ctx, registered.ID.Hex())
	s.Require().NoError(err)
	s.Equal(registered.ID, loaded.ID)

	exists, err := redisCache.Exists(s.ctx, "user:"+registered.ID.Hex())
	s.Require().NoError(err)
	s.True(exists)
}

func TestRepositoryIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RepositoryIntegrationSuite))
}
