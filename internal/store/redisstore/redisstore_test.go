package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/deltapatch/internal/delta"
	"github.com/conduit-lang/deltapatch/internal/orm/query"
	"github.com/conduit-lang/deltapatch/internal/orm/schema"
	"github.com/conduit-lang/deltapatch/internal/patch"
	"github.com/conduit-lang/deltapatch/internal/store"
)

type role string

func (role) EnumValues() []string { return []string{"Member", "Owner"} }

type Account struct {
	Id      uuid.UUID `json:"id"`
	Email   string    `json:"email" patch:"unique=ix_email"`
	Name    *string   `json:"name,omitempty"`
	Credits int       `json:"credits"`
	Members []Member  `json:"members,omitempty"`
}

type Member struct {
	Id        uuid.UUID `json:"id"`
	AccountId uuid.UUID `json:"accountId"`
	Role      role      `json:"role"`
}

var (
	accountID = uuid.MustParse("0190f7a4-5d00-7000-8000-000000000001")
	otherID   = uuid.MustParse("0190f7a4-5d00-7000-8000-000000000002")
)

func setupTestRedis(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	reg := schema.NewRegistry()
	_, err := reg.RegisterStruct(Account{})
	require.NoError(t, err)

	return New(client, reg, WithPrefix("test:")), mr
}

func accountModel(t *testing.T, st *Store) *schema.Model {
	t.Helper()

	m, err := st.registry.Lookup("Account")
	require.NoError(t, err)
	return m
}

func byEmail(email string) *query.Predicate {
	return query.NewPredicate().
		AddGroup(query.NewPredicateGroup("ix_email").Equal("Email", "email", email))
}

func byID(id uuid.UUID) *query.Predicate {
	return query.NewPredicate().
		AddGroup(query.NewPredicateGroup("primary").Equal("Id", "id", id))
}

func insert(t *testing.T, st *Store, recs ...schema.Record) {
	t.Helper()

	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	for _, rec := range recs {
		require.NoError(t, tx.StageInsert(ctx, accountModel(t, st), rec))
	}
	_, err = tx.Commit(ctx)
	require.NoError(t, err)
}

func find(t *testing.T, st *Store, pred *query.Predicate) schema.Record {
	t.Helper()

	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	rec, err := tx.FindOne(ctx, accountModel(t, st), pred)
	require.NoError(t, err)
	return rec
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	assert.NoError(t, client.Close())

	_, err = Connect(context.Background(), Config{Addr: "localhost:99999"})
	assert.Error(t, err)
}

func TestStore_InsertAndFind(t *testing.T) {
	st, mr := setupTestRedis(t)
	ctx := context.Background()
	m := accountModel(t, st)

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	rec := schema.Record{"Id": accountID, "Email": "ann@example.com", "Name": nil, "Credits": int64(10)}
	require.NoError(t, tx.StageInsert(ctx, m, rec))

	found, err := tx.FindOne(ctx, m, byID(accountID))
	require.NoError(t, err)
	assert.Nil(t, found, "staged writes are not visible")

	rows, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
	assert.True(t, mr.Exists("test:accounts:row:"+accountID.String()))

	assert.Equal(t, rec, find(t, st, byID(accountID)))
	assert.Equal(t, rec, find(t, st, byEmail("ann@example.com")))
	assert.Nil(t, find(t, st, byEmail("bob@example.com")))
}

func TestStore_FindOneGroupOrder(t *testing.T) {
	st, _ := setupTestRedis(t)
	insert(t, st,
		schema.Record{"Id": accountID, "Email": "ann@example.com", "Name": nil, "Credits": int64(0)},
		schema.Record{"Id": otherID, "Email": "bob@example.com", "Name": nil, "Credits": int64(0)},
	)

	pred := query.NewPredicate().
		AddGroup(query.NewPredicateGroup("primary").Equal("Id", "id", otherID)).
		AddGroup(query.NewPredicateGroup("ix_email").Equal("Email", "email", "ann@example.com"))

	assert.Equal(t, otherID, find(t, st, pred)["Id"])
}

func TestStore_UpdateMovesIndex(t *testing.T) {
	st, _ := setupTestRedis(t)
	ctx := context.Background()
	m := accountModel(t, st)
	original := schema.Record{"Id": accountID, "Email": "ann@example.com", "Name": nil, "Credits": int64(0)}
	insert(t, st, original)

	updated := original.Clone()
	updated["Email"] = "anna@example.com"
	updated["Name"] = "Anna"

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.StageUpdate(ctx, m, original, updated, []string{"Email", "Name"}))
	_, err = tx.Commit(ctx)
	require.NoError(t, err)

	assert.Nil(t, find(t, st, byEmail("ann@example.com")))
	assert.Equal(t, updated, find(t, st, byEmail("anna@example.com")))
}

func TestStore_UniqueViolation(t *testing.T) {
	st, mr := setupTestRedis(t)
	ctx := context.Background()
	insert(t, st, schema.Record{"Id": accountID, "Email": "ann@example.com", "Name": nil, "Credits": int64(0)})

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.StageInsert(ctx, accountModel(t, st),
		schema.Record{"Id": otherID, "Email": "ann@example.com", "Name": nil, "Credits": int64(0)}))

	_, err = tx.Commit(ctx)
	assert.ErrorIs(t, err, store.ErrUniqueViolation)
	assert.False(t, mr.Exists("test:accounts:row:"+otherID.String()))
}

func TestStore_UpdateMissingRow(t *testing.T) {
	st, _ := setupTestRedis(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	rec := schema.Record{"Id": accountID, "Email": "ann@example.com"}
	require.NoError(t, tx.StageUpdate(ctx, accountModel(t, st), rec, rec, []string{"Email"}))

	_, err = tx.Commit(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_Rollback(t *testing.T) {
	st, mr := setupTestRedis(t)
	ctx := context.Background()
	m := accountModel(t, st)

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.StageInsert(ctx, m, schema.Record{"Id": accountID, "Email": "a@example.com", "Name": nil, "Credits": int64(0)}))
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, tx.Rollback(ctx))

	assert.Empty(t, mr.Keys())
	_, err = tx.Commit(ctx)
	assert.ErrorIs(t, err, store.ErrTxDone)
	_, err = tx.FindOne(ctx, m, byID(accountID))
	assert.ErrorIs(t, err, store.ErrTxDone)
}

func TestStore_WithModels(t *testing.T) {
	st, _ := setupTestRedis(t)
	limited := New(st.client, st.registry, WithModels("Account"))

	assert.True(t, limited.Supports("account"))
	assert.False(t, limited.Supports("Member"))
	assert.False(t, limited.Supports("Invoice"))
}

func TestPatchEngine_Redis(t *testing.T) {
	st, _ := setupTestRedis(t)
	engine, err := patch.New(patch.Options{Registry: st.registry, Store: st})
	require.NoError(t, err)
	ctx := context.Background()

	in := delta.New().
		Set("email", "ann@example.com").
		Set("credits", "5").
		Set("members", []interface{}{
			map[string]interface{}{"id": otherID.String(), "role": "owner"},
		})

	res, err := engine.PatchOne(ctx, "Account", in)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, int64(5), res.Outcomes[0].Record["Credits"])
	member := res.Outcomes[1]
	assert.Equal(t, "Owner", member.Record["Role"])
	assert.Equal(t, res.Outcomes[0].Record["Id"], member.Record["AccountId"])

	again, err := engine.PatchOne(ctx, "Account", in)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Rows)
	assert.Equal(t, 2, again.Outcomes.Count(patch.Read))

	res, err = engine.PatchOne(ctx, "Account", delta.New().Set("email", "ann@example.com").Set("credits", 7))
	require.NoError(t, err)
	assert.Equal(t, patch.Updated, res.Outcomes[0].Kind)
	assert.Equal(t, []string{"Credits"}, res.Outcomes[0].Changed)
	assert.Equal(t, int64(7), find(t, st, byEmail("ann@example.com"))["Credits"])
}

func TestPatchEngine_RedisUniqueIndexOnly(t *testing.T) {
	st, mr := setupTestRedis(t)
	country := schema.NewModel("Country").
		AddField(&schema.Field{Name: "Code", Type: schema.TypeString}).
		AddField(&schema.Field{Name: "Label", Type: schema.TypeString, Nullable: true}).
		AddUnique("ux_code", "Code")
	require.NoError(t, st.registry.Register(country))

	engine, err := patch.New(patch.Options{Registry: st.registry, Store: st})
	require.NoError(t, err)
	ctx := context.Background()

	in := delta.New().Set("code", "NZ").Set("label", "New Zealand")

	res, err := engine.PatchOne(ctx, "Country", in)
	require.NoError(t, err)
	assert.Equal(t, patch.Created, res.Outcomes[0].Kind)
	assert.Equal(t, []string{"test:countries:row:NZ"}, mr.Keys())

	again, err := engine.PatchOne(ctx, "Country", in)
	require.NoError(t, err)
	assert.Equal(t, patch.Read, again.Outcomes[0].Kind)
	assert.Equal(t, 0, again.Rows)

	res, err = engine.PatchOne(ctx, "Country", delta.New().Set("code", "NZ").Set("label", "Aotearoa"))
	require.NoError(t, err)
	assert.Equal(t, patch.Updated, res.Outcomes[0].Kind)
	assert.Equal(t, []string{"Label"}, res.Outcomes[0].Changed)

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	found, err := tx.FindOne(ctx, country, query.NewPredicate().
		AddGroup(query.NewPredicateGroup("ux_code").Equal("Code", "code", "NZ")))
	require.NoError(t, err)
	assert.Equal(t, "Aotearoa", found["Label"])

	pending := &Tx{store: st, writes: []write{{model: country, record: found}}}
	assert.Equal(t, []string{"test:countries:row:NZ"}, pending.watchKeys())
}

func TestPatchEngine_RedisIntegerKeys(t *testing.T) {
	st, mr := setupTestRedis(t)
	ticket := schema.NewModel("Ticket").
		AddField(&schema.Field{Name: "Id", Type: schema.TypeInt}).
		AddField(&schema.Field{Name: "Title", Type: schema.TypeString})
	require.NoError(t, st.registry.Register(ticket))
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.StageInsert(ctx, ticket, schema.Record{"Id": int64(7), "Title": "imported"}))
	_, err = tx.Commit(ctx)
	require.NoError(t, err)

	engine, err := patch.New(patch.Options{Registry: st.registry, Store: st})
	require.NoError(t, err)

	res, err := engine.PatchOne(ctx, "Ticket", delta.New().Set("title", "first"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.Outcomes[0].Record["Id"])

	res, err = engine.PatchOne(ctx, "Ticket", delta.New().Set("title", "second"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.Outcomes[0].Record["Id"])

	seq, err := mr.Get("test:tickets:seq:Id")
	require.NoError(t, err)
	assert.Equal(t, "9", seq)
	assert.True(t, mr.Exists("test:tickets:row:9"))
}
