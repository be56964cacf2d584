package invalidation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	create []*cloudfront.CreateInvalidationInput
	get    []*cloudfront.GetInvalidationInput
	err    error
	status string
}

func (f *fakeAPI) CreateInvalidation(
	_ context.Context,
	params *cloudfront.CreateInvalidationInput,
	_ ...func(*cloudfront.Options),
) (*cloudfront.CreateInvalidationOutput, error) {
	f.create = append(f.create, params)
	if f.err != nil {
		return nil, f.err
	}
	created := time.Unix(100, 0).UTC()
	return &cloudfront.CreateInvalidationOutput{
		Invalidation: &types.Invalidation{
			Id:                aws.String("I2J0I21PCUYOIK"),
			Status:            aws.String("InProgress"),
			CreateTime:        &created,
			InvalidationBatch: params.InvalidationBatch,
		},
	}, nil
}

func (f *fakeAPI) GetInvalidation(
	_ context.Context,
	params *cloudfront.GetInvalidationInput,
	_ ...func(*cloudfront.Options),
) (*cloudfront.GetInvalidationOutput, error) {
	f.get = append(f.get, params)
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == "" {
		status = StatusCompleted
	}
	return &cloudfront.GetInvalidationOutput{
		Invalidation: &types.Invalidation{
			Id:     params.Id,
			Status: aws.String(status),
		},
	}, nil
}

func newTestClient(t *testing.T, fake *fakeAPI) Client {
	t.Helper()
	c, err := NewClient(context.Background(), WithAPI(fake), WithCallerReference(func() string { return "ref-1" }))
	require.NoError(t, err)
	return c
}

func TestNormalizePaths(t *testing.T) {
	t.Parallel()

	paths, err := NormalizePaths(nil)
	require.NoError(t, err)
	require.Equal(t, []string{"/*"}, paths)

	paths, err = NormalizePaths([]string{" /index.html ", "", "/index.html", "/assets/*"})
	require.NoError(t, err)
	require.Equal(t, []string{"/index.html", "/assets/*"}, paths)

	_, err = NormalizePaths([]string{"index.html"})
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestClient_Invalidate(t *testing.T) {
	t.Parallel()

	fake := &fakeAPI{}
	c := newTestClient(t, fake)

	inv, err := c.Invalidate(context.Background(), " E2QWRUHAPOMQZL ", nil)
	require.NoError(t, err)
	require.Len(t, fake.create, 1)

	in := fake.create[0]
	require.Equal(t, "E2QWRUHAPOMQZL", aws.ToString(in.DistributionId))
	require.Equal(t, "ref-1", aws.ToString(in.InvalidationBatch.CallerReference))
	require.Equal(t, int32(1), aws.ToInt32(in.InvalidationBatch.Paths.Quantity))
	require.Equal(t, []string{"/*"}, in.InvalidationBatch.Paths.Items)

	require.Equal(t, Invalidation{
		ID:              "I2J0I21PCUYOIK",
		DistributionID:  "E2QWRUHAPOMQZL",
		Status:          "InProgress",
		CallerReference: "ref-1",
		Paths:           []string{"/*"},
		CreatedAt:       time.Unix(100, 0).UTC(),
	}, inv)
}

func TestClient_InvalidateValidatesInput(t *testing.T) {
	t.Parallel()

	fake := &fakeAPI{}
	c := newTestClient(t, fake)

	_, err := c.Invalidate(context.Background(), "  ", nil)
	require.Error(t, err)
	_, err = c.Invalidate(context.Background(), "E2QWRUHAPOMQZL", []string{"assets"})
	require.ErrorIs(t, err, ErrInvalidPath)
	require.Empty(t, fake.create)
}

func TestClient_InvalidateWrapsAPIErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("access denied")
	c := newTestClient(t, &fakeAPI{err: boom})

	_, err := c.Invalidate(context.Background(), "E2QWRUHAPOMQZL", nil)
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "E2QWRUHAPOMQZL")
}

func TestClient_GetAndWait(t *testing.T) {
	t.Parallel()

	fake := &fakeAPI{}
	c := newTestClient(t, fake)

	inv, err := c.Get(context.Background(), "E2QWRUHAPOMQZL", "I2J0I21PCUYOIK")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, inv.Status)

	_, err = c.Get(context.Background(), "E2QWRUHAPOMQZL", "")
	require.Error(t, err)

	require.NoError(t, c.Wait(context.Background(), "E2QWRUHAPOMQZL", "I2J0I21PCUYOIK", time.Minute))
	require.Len(t, fake.get, 2)
}

func TestNewClient_DefaultCallerReferenceIsUnique(t *testing.T) {
	t.Parallel()

	fake := &fakeAPI{}
	c, err := NewClient(context.Background(), WithAPI(fake))
	require.NoError(t, err)

	_, err = c.Invalidate(context.Background(), "E2QWRUHAPOMQZL", nil)
	require.NoError(t, err)
	_, err = c.Invalidate(context.Background(), "E2QWRUHAPOMQZL", nil)
	require.NoError(t, err)

	first := aws.ToString(fake.create[0].InvalidationBatch.CallerReference)
	second := aws.ToString(fake.create[1].InvalidationBatch.CallerReference)
	require.Regexp(t, `^sitetheory-[0-9A-Z]{26}$`, first)
	require.NotEqual(t, first, second)
}

func TestClient_InvalidateWithReference(t *testing.T) {
	t.Parallel()

	fake := &fakeAPI{}
	c := newTestClient(t, fake)

	inv, err := c.Invalidate(context.Background(), "E2QWRUHAPOMQZL", nil, WithReference(" sitetheory-content-abc "))
	require.NoError(t, err)
	require.Equal(t, "sitetheory-content-abc", aws.ToString(fake.create[0].InvalidationBatch.CallerReference))
	require.NotEmpty(t, inv.CallerReference)

	_, err = c.Invalidate(context.Background(), "E2QWRUHAPOMQZL", nil, WithReference(""), nil)
	require.NoError(t, err)
	require.Equal(t, "ref-1", aws.ToString(fake.create[1].InvalidationBatch.CallerReference))
}

func TestResolveReference(t *testing.T) {
	t.Parallel()

	require.Empty(t, ResolveReference())
	require.Equal(t, "b", ResolveReference(WithReference("a"), nil, WithReference("b")))
}
