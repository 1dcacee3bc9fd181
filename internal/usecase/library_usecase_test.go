package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperscroll/backend/internal/domain"
	"github.com/paperscroll/backend/internal/repository/memory"
	"github.com/paperscroll/backend/pkg/queryparser"
)

func newLibraryFixture() (*LibraryUsecase, *memory.PaperStore) {
	papers := memory.NewPaperStore()
	return NewLibraryUsecase(memory.NewUserStore(), papers, queryparser.NewRuleParser()), papers
}

func likedIDs(t *testing.T, uc *LibraryUsecase, userID string) []string {
	t.Helper()
	summary, err := uc.GetFeedback(context.Background(), userID)
	require.NoError(t, err)
	return summary.Liked
}

func TestLikeThenUnlike(t *testing.T) {
	t.Parallel()

	uc, _ := newLibraryFixture()
	ctx := context.Background()

	require.NoError(t, uc.Like(ctx, "u1", "W1", nil))

	summary, err := uc.GetFeedback(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"W1"}, summary.Liked)
	assert.Empty(t, summary.Disliked)

	folder, _, err := uc.GetFolder(ctx, "u1", domain.LikesFolderID)
	require.NoError(t, err)
	assert.Equal(t, []string{"W1"}, folder.PaperIDs)

	require.NoError(t, uc.Unlike(ctx, "u1", "W1"))

	folder, _, err = uc.GetFolder(ctx, "u1", domain.LikesFolderID)
	require.NoError(t, err)
	assert.Empty(t, folder.PaperIDs)
	assert.Empty(t, likedIDs(t, uc, "u1"))
}

func TestLikeFlipsDislike(t *testing.T) {
	t.Parallel()

	uc, _ := newLibraryFixture()
	ctx := context.Background()

	require.NoError(t, uc.Dislike(ctx, "u1", "W2", nil))
	require.NoError(t, uc.Like(ctx, "u1", "W2", nil))

	summary, err := uc.GetFeedback(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"W2"}, summary.Liked)
	assert.Empty(t, summary.Disliked)

	folder, _, err := uc.GetFolder(ctx, "u1", domain.LikesFolderID)
	require.NoError(t, err)
	assert.Equal(t, []string{"W2"}, folder.PaperIDs)
}

func TestDislikeRemovesFromLikesFolder(t *testing.T) {
	t.Parallel()

	uc, _ := newLibraryFixture()
	ctx := context.Background()

	require.NoError(t, uc.Like(ctx, "u1", "W1", nil))
	require.NoError(t, uc.Dislike(ctx, "u1", "W1", nil))

	summary, err := uc.GetFeedback(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, summary.Liked)
	assert.Equal(t, []string{"W1"}, summary.Disliked)

	folder, _, err := uc.GetFolder(ctx, "u1", domain.LikesFolderID)
	require.NoError(t, err)
	assert.Empty(t, folder.PaperIDs)
}

func TestLikeStoresSnapshotFirst(t *testing.T) {
	t.Parallel()

	uc, papers := newLibraryFixture()
	ctx := context.Background()

	snap := mkPaper("W1", 2023)
	require.NoError(t, uc.Like(ctx, "u1", "W1", snap))

	stored, err := papers.Get(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, "Paper W1", stored.Title)
}

func TestConcurrentLikesProduceOneEntry(t *testing.T) {
	t.Parallel()

	uc, _ := newLibraryFixture()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, uc.Like(ctx, "u1", "W1", nil))
		}()
	}
	wg.Wait()

	summary, err := uc.GetFeedback(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"W1"}, summary.Liked)

	folder, _, err := uc.GetFolder(ctx, "u1", domain.LikesFolderID)
	require.NoError(t, err)
	assert.Equal(t, []string{"W1"}, folder.PaperIDs)
}

func TestAddPaperIsIdempotent(t *testing.T) {
	t.Parallel()

	uc, _ := newLibraryFixture()
	ctx := context.Background()

	folder, err := uc.CreateFolder(ctx, "u1", "Reading list", "")
	require.NoError(t, err)

	require.NoError(t, uc.AddPaper(ctx, "u1", folder.ID, "W1", mkPaper("W1", 2023)))
	require.NoError(t, uc.AddPaper(ctx, "u1", folder.ID, "W2", mkPaper("W2", 2022)))
	require.NoError(t, uc.AddPaper(ctx, "u1", folder.ID, "W1", mkPaper("W1", 2023)))

	got, _, err := uc.GetFolder(ctx, "u1", folder.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"W1", "W2"}, got.PaperIDs)
}

func TestLikesFolderMembershipImpliesFeedback(t *testing.T) {
	t.Parallel()

	uc, _ := newLibraryFixture()
	ctx := context.Background()

	require.NoError(t, uc.AddPaper(ctx, "u1", domain.LikesFolderID, "W1", mkPaper("W1", 2023)))
	assert.Equal(t, []string{"W1"}, likedIDs(t, uc, "u1"))

	require.NoError(t, uc.RemovePaper(ctx, "u1", domain.LikesFolderID, "W1"))
	assert.Empty(t, likedIDs(t, uc, "u1"))
}

func TestLikesFolderIsProtected(t *testing.T) {
	t.Parallel()

	uc, _ := newLibraryFixture()
	ctx := context.Background()

	assert.ErrorIs(t, uc.DeleteFolder(ctx, "u1", domain.LikesFolderID), domain.ErrForbidden)
	_, err := uc.RenameFolder(ctx, "u1", domain.LikesFolderID, "Favourites", "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestDeleteFolder(t *testing.T) {
	t.Parallel()

	uc, _ := newLibraryFixture()
	ctx := context.Background()

	folder, err := uc.CreateFolder(ctx, "u1", "Temp", "")
	require.NoError(t, err)
	require.NoError(t, uc.DeleteFolder(ctx, "u1", folder.ID))
	assert.ErrorIs(t, uc.DeleteFolder(ctx, "u1", folder.ID), domain.ErrNotFound)

	_, _, err = uc.GetFolder(ctx, "u1", folder.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFolderNameValidation(t *testing.T) {
	t.Parallel()

	uc, _ := newLibraryFixture()
	ctx := context.Background()

	_, err := uc.CreateFolder(ctx, "u1", "   ", "")
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = uc.CreateFolder(ctx, "u1", strings.Repeat("x", domain.MaxFolderNameLen+1), "")
	assert.ErrorAs(t, err, &ve)
}

func TestProfileNormalization(t *testing.T) {
	t.Parallel()

	uc, _ := newLibraryFixture()
	ctx := context.Background()

	err := uc.PutProfile(ctx, "u1", []string{" ML ", "ml", "Robotics", ""}, []string{"Jane Doe", "JANE DOE"})
	require.NoError(t, err)

	profile, err := uc.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ML", "Robotics"}, profile.Topics)
	assert.Equal(t, []string{"Jane Doe"}, profile.Authors)

	tooMany := make([]string, domain.MaxProfileEntries+1)
	for i := range tooMany {
		tooMany[i] = strings.Repeat("t", i+1)
	}
	var ve *domain.ValidationError
	assert.ErrorAs(t, uc.PutProfile(ctx, "u1", tooMany, nil), &ve)

	require.NoError(t, uc.ClearProfile(ctx, "u1"))
	profile, err = uc.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, profile.Topics)
}

func TestDuplicateFollowConflicts(t *testing.T) {
	t.Parallel()

	uc, _ := newLibraryFixture()
	ctx := context.Background()

	first, err := uc.Follow(ctx, "u1", &domain.Follow{
		Type:       domain.EntityAuthor,
		EntityID:   "A1",
		EntityName: "Jane Doe",
		OpenAlexID: "https://openalex.org/A1",
	})
	require.NoError(t, err)

	second, err := uc.Follow(ctx, "u1", &domain.Follow{
		Type:       domain.EntityAuthor,
		EntityID:   "A1",
		EntityName: "Jane Doe",
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
	require.NotNil(t, second)
	assert.Equal(t, first.FollowedAt, second.FollowedAt)

	follows, err := uc.ListFollows(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, follows, 1)
}

func TestCustomFollowGetsStableIDAndParsedQuery(t *testing.T) {
	t.Parallel()

	uc, _ := newLibraryFixture()
	ctx := context.Background()

	follow, err := uc.Follow(ctx, "u1", &domain.Follow{
		Type:       domain.EntityCustom,
		EntityName: "transformers since 2020",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(follow.EntityID, "custom_"))
	require.NotNil(t, follow.ParsedQuery)
	assert.Equal(t, []string{"transformers"}, follow.ParsedQuery.Keywords)
	assert.Equal(t, []string{">2020"}, follow.ParsedQuery.Years)

	// same query text, same id
	_, err = uc.Follow(ctx, "u1", &domain.Follow{
		Type:       domain.EntityCustom,
		EntityName: "Transformers since 2020",
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUnfollow(t *testing.T) {
	t.Parallel()

	uc, _ := newLibraryFixture()
	ctx := context.Background()

	_, err := uc.Follow(ctx, "u1", &domain.Follow{Type: domain.EntityTopic, EntityID: "C1", EntityName: "ML"})
	require.NoError(t, err)

	require.NoError(t, uc.Unfollow(ctx, "u1", domain.EntityTopic, "C1"))
	assert.ErrorIs(t, uc.Unfollow(ctx, "u1", domain.EntityTopic, "C1"), domain.ErrNotFound)
}

func TestClearFeedback(t *testing.T) {
	t.Parallel()

	uc, _ := newLibraryFixture()
	ctx := context.Background()

	require.NoError(t, uc.Like(ctx, "u1", "W1", nil))
	require.NoError(t, uc.Dislike(ctx, "u1", "W2", nil))

	require.NoError(t, uc.ClearFeedback(ctx, "u1", "liked"))
	summary, err := uc.GetFeedback(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, summary.Liked)
	assert.Equal(t, []string{"W2"}, summary.Disliked)

	folder, _, err := uc.GetFolder(ctx, "u1", domain.LikesFolderID)
	require.NoError(t, err)
	assert.Empty(t, folder.PaperIDs)

	require.NoError(t, uc.ClearFeedback(ctx, "u1", "all"))
	summary, err = uc.GetFeedback(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, summary.Disliked)

	var ve *domain.ValidationError
	assert.ErrorAs(t, uc.ClearFeedback(ctx, "u1", "everything"), &ve)
}
