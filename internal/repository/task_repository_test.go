package repository_test

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/fuzumoe/smartspider-api/internal/errs"
	"github.com/fuzumoe/smartspider-api/internal/model"
	"github.com/fuzumoe/smartspider-api/internal/repository"
)

// setupMockDB initializes a GORM DB backed by sqlmock.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func taskRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "name", "status", "created_at", "updated_at"})
	for _, id := range ids {
		rows.AddRow(id, "task "+id, "pending", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	}
	return rows
}

func TestTaskRepo(t *testing.T) {
	t.Run("Create", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := repository.NewTaskRepo(db)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO `tasks`").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		task := model.TaskFromCreateInput(&model.CreateTaskInput{
			Name: "create",
			URLs: []string{"http://example.com"},
		})
		assert.NoError(t, repo.Create(task))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("FindByID_Success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := repository.NewTaskRepo(db)

		mock.ExpectQuery("SELECT \\* FROM `tasks`").
			WillReturnRows(taskRows("t-1"))

		task, err := repo.FindByID("t-1")
		require.NoError(t, err)
		assert.Equal(t, "t-1", task.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("FindByID_NotFound", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := repository.NewTaskRepo(db)

		mock.ExpectQuery("SELECT \\* FROM `tasks`").
			WillReturnError(gorm.ErrRecordNotFound)

		_, err := repo.FindByID("missing")
		require.Error(t, err)
		assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("List", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := repository.NewTaskRepo(db)

		mock.ExpectQuery("SELECT count\\(\\*\\) FROM `tasks`").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
		mock.ExpectQuery("SELECT \\* FROM `tasks`").
			WillReturnRows(taskRows("t-1", "t-2"))

		tasks, total, err := repo.List("", repository.Pagination{Page: 1, PageSize: 2})
		require.NoError(t, err)
		assert.Len(t, tasks, 2)
		assert.Equal(t, int64(12), total)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("List_FilteredByStatus", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := repository.NewTaskRepo(db)

		mock.ExpectQuery("SELECT count\\(\\*\\) FROM `tasks` WHERE status = \\?").
			WithArgs("running").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery("SELECT \\* FROM `tasks` WHERE status = \\?").
			WillReturnRows(taskRows("t-1"))

		tasks, total, err := repo.List("running", repository.Pagination{Page: 1, PageSize: 10})
		require.NoError(t, err)
		assert.Len(t, tasks, 1)
		assert.Equal(t, int64(1), total)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UpdateStatus_StampsRunning", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := repository.NewTaskRepo(db)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `tasks` SET `started_at`=.+`status`=").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, repo.UpdateStatus("t-1", model.StatusRunning))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UpdateStatus_StampsCompleted", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := repository.NewTaskRepo(db)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `tasks` SET `completed_at`=.+`status`=").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, repo.UpdateStatus("t-1", model.StatusSuccess))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UpdateStatus_NotFound", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := repository.NewTaskRepo(db)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `tasks`").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err := repo.UpdateStatus("missing", model.StatusFailed)
		require.Error(t, err)
		assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UpdateCounts", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := repository.NewTaskRepo(db)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `tasks` SET `failed_url_count`=.+`success_url_count`=").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, repo.UpdateCounts("t-1", 8, 2))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Delete_SoftDeletes", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := repository.NewTaskRepo(db)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `tasks` SET `deleted_at`=").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, repo.Delete("t-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Delete_NotFound", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := repository.NewTaskRepo(db)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `tasks` SET `deleted_at`=").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err := repo.Delete("missing")
		require.Error(t, err)
		assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
