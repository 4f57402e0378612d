package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grosser/soft-deletion/internal/model"
	"github.com/grosser/soft-deletion/pkg/softdelete"
)

// DemoReport summarises one run of the forum scenario.
type DemoReport struct {
	CategoryID       string
	ForumIDs         []string
	PostID           string
	DeletedCascade   bool
	RestoredCascade  bool
	LockedRefused    string
	ForumsCount      int
	BulkDeletedPosts int
	Events           int
}

// RunDemo seeds a category with forums and a post, then walks through
// cascade, undelete, hook abort and bulk deletion against the configured
// store.
func (a *App) RunDemo(ctx context.Context) (*DemoReport, error) {
	events, unsubscribe := a.bus.Subscribe()
	defer unsubscribe()

	category := &model.Category{Name: "General", ForumsCount: 2}
	if err := a.store.Insert(ctx, category); err != nil {
		return nil, fmt.Errorf("seed category: %w", err)
	}
	forums := []*model.Forum{
		{Name: "Announcements", CategoryID: &category.ID},
		{Name: "Off topic", CategoryID: &category.ID},
	}
	for _, f := range forums {
		if err := a.store.Insert(ctx, f); err != nil {
			return nil, fmt.Errorf("seed forum: %w", err)
		}
	}
	post := &model.Post{ForumID: &forums[0].ID, Body: "welcome"}
	if err := a.store.Insert(ctx, post); err != nil {
		return nil, fmt.Errorf("seed post: %w", err)
	}

	report := &DemoReport{
		CategoryID: category.ID,
		ForumIDs:   []string{forums[0].ID, forums[1].ID},
		PostID:     post.ID,
	}

	if err := a.engine.SoftDelete(ctx, category); err != nil {
		return nil, fmt.Errorf("soft delete category: %w", err)
	}
	deleted, err := a.allDeleted(ctx, model.TableForums, report.ForumIDs...)
	if err != nil {
		return nil, err
	}
	report.DeletedCascade = deleted
	a.logger.Info("category soft deleted", "id", category.ID, "forums_deleted", deleted)

	if err := a.engine.SoftUndelete(ctx, category); err != nil {
		return nil, fmt.Errorf("soft undelete category: %w", err)
	}
	deleted, err = a.anyDeleted(ctx, model.TableForums, report.ForumIDs...)
	if err != nil {
		return nil, err
	}
	report.RestoredCascade = !deleted
	a.logger.Info("category soft undeleted", "id", category.ID, "forums_restored", !deleted)

	locked, err := a.store.Get(ctx, model.TableForums, forums[1].ID)
	if err != nil {
		return nil, fmt.Errorf("load forum: %w", err)
	}
	locked.(*model.Forum).Locked = true
	if err := a.store.Save(ctx, locked, softdelete.SaveOptions{}); err != nil {
		return nil, fmt.Errorf("lock forum: %w", err)
	}
	var failed *softdelete.HookFailedError
	if err := a.engine.SoftDelete(ctx, category); !errors.As(err, &failed) {
		return nil, fmt.Errorf("expected locked forum to stop the cascade, got %v", err)
	}
	report.LockedRefused = failed.Error()
	a.logger.Info("cascade refused", "reason", failed.Error())

	if err := a.engine.SoftDeleteAll(ctx, model.TableForums, forums[0].ID); err != nil {
		return nil, fmt.Errorf("bulk soft delete: %w", err)
	}
	owner, err := a.store.Get(ctx, model.TableCategories, category.ID)
	if err != nil {
		return nil, fmt.Errorf("reload category: %w", err)
	}
	report.ForumsCount = owner.(*model.Category).ForumsCount

	posts, err := a.store.Find(softdelete.OnlyDeleted(ctx, model.TablePosts), model.TablePosts, []string{post.ID})
	if err != nil {
		return nil, fmt.Errorf("load posts: %w", err)
	}
	report.BulkDeletedPosts = len(posts)

	report.Events = drain(events, 50*time.Millisecond)
	a.logger.Info("demo finished",
		"forums_count", report.ForumsCount, "bulk_deleted_posts", report.BulkDeletedPosts, "events", report.Events)
	return report, nil
}

func (a *App) allDeleted(ctx context.Context, table string, ids ...string) (bool, error) {
	rows, err := a.store.Find(softdelete.OnlyDeleted(ctx, table), table, ids)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", table, err)
	}
	return len(rows) == len(ids), nil
}

func (a *App) anyDeleted(ctx context.Context, table string, ids ...string) (bool, error) {
	rows, err := a.store.Find(softdelete.OnlyDeleted(ctx, table), table, ids)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", table, err)
	}
	return len(rows) > 0, nil
}

// drain counts buffered events, waiting at most idle for the next one.
func drain[T any](ch <-chan T, idle time.Duration) int {
	n := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n
			}
			n++
		case <-time.After(idle):
			return n
		}
	}
}
