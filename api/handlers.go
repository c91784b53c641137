package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const (
	routeBoard       = "/todos/board"
	routeCreate      = "/todos"
	routeReorder     = "/todos/reorder"
	routePriority    = "/todos/:id/update-priority"
	routeEisenhower  = "/todos/:id/update-eisenhower"
	routeToggle      = "/todos/:id/toggle-complete"
	routeArchive     = "/todos/:id/archive"
	routeRestore     = "/todos/:id/restore"
	routeDelete      = "/todos/:id"
	msgReordered     = "Todo order updated successfully"
	msgNotOwned      = "This todo does not belong to you."
	msgMismatch      = "The board changed since it was loaded. Refresh and try again."
	msgIneligible    = "Only todos can be placed on the board."
	msgStaleSequence = "A newer reorder for this column was already applied."
)

// Register wires up all API routes on the provided Echo instance. seq and pub
// are optional.
func Register(e *echo.Echo, store Storage, auth Authenticator, seq Sequencer, pub Publisher, logger *log.Logger) {
	e.GET(routeBoard, getBoard(store, auth, logger))
	e.POST(routeCreate, createTodo(store, auth, logger))
	e.POST(routeReorder, reorderTodos(store, auth, seq, logger))
	e.POST(routePriority, updatePriority(store, auth, logger))
	e.POST(routeEisenhower, updateEisenhower(store, auth, logger))
	e.POST(routeToggle, toggleComplete(store, auth, logger))
	e.POST(routeArchive, changeLifecycle(store, auth, logger, routeArchive, domain.LifecycleArchive))
	e.POST(routeRestore, changeLifecycle(store, auth, logger, routeRestore, domain.LifecycleRestore))
	e.DELETE(routeDelete, changeLifecycle(store, auth, logger, routeDelete, domain.LifecycleDelete))
	e.GET("/healthz", healthz())

	initBoardNotifier(pub, logger)
}

// Shutdown drains the board notifier.
func Shutdown() {
	shutdownBoardNotifier()
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// startRequest opens the metrics scope and authenticates the caller. On auth
// failure the 401 response has already been written and ok is false.
func startRequest(c echo.Context, auth Authenticator, logger *log.Logger, route string) (m *requestMetrics, ctx context.Context, userID string, ok bool, err error) {
	m, ctx = newRequestMetrics(c.Request().Context(), logger, route)
	c.SetRequest(c.Request().WithContext(ctx))

	authStart := time.Now()
	userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	m.ObserveAuth(time.Since(authStart))
	if authErr != nil {
		m.SetErrorStage("auth")
		return m, ctx, "", false, c.JSON(http.StatusUnauthorized, errorResponse{Message: authErr.Error()})
	}
	return m, ctx, userID, true, nil
}

func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, maxRequestBodySize)
	return sonic.ConfigStd.NewDecoder(lr).Decode(dst)
}

func parseTodoID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func invalid(c echo.Context, m *requestMetrics, err error) error {
	m.SetErrorStage("validation")
	return c.JSON(http.StatusUnprocessableEntity, validationResponse{
		Message: "The given data was invalid.",
		Errors:  fieldErrors(err),
	})
}

// writeStoreError maps order store failures to HTTP responses.
func writeStoreError(c echo.Context, m *requestMetrics, err error) error {
	var (
		verr *domain.ValidationError
		terr *domain.TaskError
		id   int64
	)
	if errors.As(err, &terr) {
		id = terr.TaskID
	}
	switch {
	case errors.As(err, &verr):
		return invalid(c, m, err)
	case errors.Is(err, domain.ErrNotOwned):
		m.SetErrorStage("ownership")
		return c.JSON(http.StatusForbidden, errorResponse{Message: msgNotOwned, TodoID: id})
	case errors.Is(err, domain.ErrIneligible):
		m.SetErrorStage("ineligible")
		return c.JSON(http.StatusUnprocessableEntity, validationResponse{
			Message: msgIneligible,
			Errors:  map[string][]string{"type": {msgIneligible}},
		})
	case errors.Is(err, domain.ErrTooManyIDs):
		m.SetErrorStage("validation")
		return c.JSON(http.StatusUnprocessableEntity, validationResponse{
			Message: "The given data was invalid.",
			Errors:  map[string][]string{"todo_ids": {err.Error()}},
		})
	case errors.Is(err, domain.ErrColumnMismatch):
		m.SetErrorStage("column_mismatch")
		return c.JSON(http.StatusConflict, errorResponse{Message: msgMismatch, TodoID: id})
	case errors.Is(err, domain.ErrConcurrencyConflict):
		m.SetErrorStage("conflict")
		return c.JSON(http.StatusConflict, errorResponse{Message: msgMismatch})
	case errors.Is(err, domain.ErrStaleSequence):
		m.SetErrorStage("stale_sequence")
		return c.JSON(http.StatusConflict, errorResponse{Message: msgStaleSequence})
	}
	m.SetErrorStage("storage")
	c.Logger().Error(err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Message: "failed to update todos"})
}

func getBoard(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx, userID, ok, err := startRequest(c, auth, logger, routeBoard)
		defer func() { m.Log(c.Response().Status, errIfServer(c, err)) }()
		if !ok {
			return err
		}

		view, verr := domain.ParseView(c.QueryParam("view"))
		if verr != nil {
			return invalid(c, m, verr)
		}

		fetchStart := time.Now()
		tasks, fetchErr := store.FetchTasks(ctx, userID)
		m.ObserveStore(time.Since(fetchStart))
		if fetchErr != nil {
			return writeStoreError(c, m, fetchErr)
		}

		grouped := domain.Group(view, tasks)
		resp := boardResponse{View: view}
		total := 0
		for _, col := range domain.ColumnsFor(view) {
			list := grouped[col]
			for i := range list {
				list[i] = list[i].WithDerived()
			}
			total += len(list)
			resp.Columns = append(resp.Columns, boardColumn{Column: col, Todos: list})
		}
		m.SetTodos(total)
		return c.JSON(http.StatusOK, resp)
	}
}

func createTodo(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx, userID, ok, err := startRequest(c, auth, logger, routeCreate)
		defer func() { m.Log(c.Response().Status, errIfServer(c, err)) }()
		if !ok {
			return err
		}

		var req domain.NewTask
		if derr := decodeBody(c, &req); derr != nil {
			m.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid body"})
		}
		if verr := requestValidate.Struct(req); verr != nil {
			return invalid(c, m, verr)
		}

		start := time.Now()
		t, serr := store.CreateTask(ctx, userID, req)
		m.ObserveStore(time.Since(start))
		if serr != nil {
			return writeStoreError(c, m, serr)
		}
		t = t.WithDerived()
		notifyBoardChange(userID, taskEvent(domain.EventTodoCreated, t))
		return c.JSON(http.StatusCreated, todoResponse{Message: "Todo created successfully", Todo: t})
	}
}

func reorderTodos(store Storage, auth Authenticator, seq Sequencer, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx, userID, ok, err := startRequest(c, auth, logger, routeReorder)
		defer func() { m.Log(c.Response().Status, errIfServer(c, err)) }()
		if !ok {
			return err
		}

		var req reorderRequest
		if derr := decodeBody(c, &req); derr != nil {
			m.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid body"})
		}
		if verr := requestValidate.Struct(req); verr != nil {
			return invalid(c, m, verr)
		}
		col, cerr := domain.ParseColumn(req.Column)
		if cerr != nil {
			return invalid(c, m, cerr)
		}
		m.SetColumn(string(col))
		m.SetTodos(len(req.TodoIDs))

		claimed := false
		if seq != nil && req.Sequence != nil {
			fresh, serr := seq.Claim(ctx, userID, col, *req.Sequence)
			switch {
			case serr != nil:
				// Sequencing is best effort: without Redis the request falls
				// back to last-write-wins.
				logger.WithError(serr).WithField("user", userID).Warn("reorder sequence check failed")
			case !fresh:
				return writeStoreError(c, m, domain.ErrStaleSequence)
			default:
				claimed = true
			}
		}

		start := time.Now()
		rerr := store.ReorderColumn(ctx, userID, col, req.TodoIDs)
		m.ObserveStore(time.Since(start))
		if errors.Is(rerr, domain.ErrStorageNotReady) {
			m.SetStorageNotReady()
			logger.WithFields(log.Fields{"user": userID, "column": col}).Warn("ordering storage not ready; reorder skipped")
			return c.JSON(http.StatusOK, messageResponse{Message: msgReordered})
		}
		if rerr != nil {
			if claimed {
				if relErr := seq.Release(context.WithoutCancel(ctx), userID, col, *req.Sequence); relErr != nil {
					logger.WithError(relErr).WithField("user", userID).Warn("reorder sequence release failed")
				}
			}
			return writeStoreError(c, m, rerr)
		}

		notifyBoardChange(userID, domain.BoardEvent{Type: domain.EventTodosReordered, Column: col, TaskIDs: req.TodoIDs})
		return c.JSON(http.StatusOK, messageResponse{Message: msgReordered})
	}
}

func updatePriority(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx, userID, ok, err := startRequest(c, auth, logger, routePriority)
		defer func() { m.Log(c.Response().Status, errIfServer(c, err)) }()
		if !ok {
			return err
		}

		id, idOK := parseTodoID(c)
		if !idOK {
			return writeStoreError(c, m, domain.ErrNotOwned)
		}
		var req updatePriorityRequest
		if derr := decodeBody(c, &req); derr != nil {
			m.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid body"})
		}
		p, perr := domain.ParsePriority(req.Priority)
		if perr != nil {
			return invalid(c, m, perr)
		}
		return applyMove(c, m, ctx, store, userID, id, domain.KanbanMove{Priority: p, IsCompleted: req.IsCompleted}, "Todo priority updated successfully")
	}
}

func updateEisenhower(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx, userID, ok, err := startRequest(c, auth, logger, routeEisenhower)
		defer func() { m.Log(c.Response().Status, errIfServer(c, err)) }()
		if !ok {
			return err
		}

		id, idOK := parseTodoID(c)
		if !idOK {
			return writeStoreError(c, m, domain.ErrNotOwned)
		}
		var req updateEisenhowerRequest
		if derr := decodeBody(c, &req); derr != nil {
			m.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid body"})
		}
		if verr := requestValidate.Struct(req); verr != nil {
			return invalid(c, m, verr)
		}
		errs := map[string][]string{}
		urgency, uerr := domain.ParseUrgency(req.Priority)
		if uerr != nil {
			errs["priority"] = fieldErrors(uerr)["priority"]
		}
		importance, ierr := domain.ParseImportance(req.Importance)
		if ierr != nil {
			errs["importance"] = fieldErrors(ierr)["importance"]
		}
		if len(errs) > 0 {
			m.SetErrorStage("validation")
			return c.JSON(http.StatusUnprocessableEntity, validationResponse{Message: "The given data was invalid.", Errors: errs})
		}
		return applyMove(c, m, ctx, store, userID, id, domain.MatrixMove{Urgency: urgency, Importance: importance}, "Todo quadrant updated successfully")
	}
}

func toggleComplete(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx, userID, ok, err := startRequest(c, auth, logger, routeToggle)
		defer func() { m.Log(c.Response().Status, errIfServer(c, err)) }()
		if !ok {
			return err
		}
		id, idOK := parseTodoID(c)
		if !idOK {
			return writeStoreError(c, m, domain.ErrNotOwned)
		}
		return applyMove(c, m, ctx, store, userID, id, domain.ToggleCompletion{}, "Todo status updated successfully")
	}
}

func applyMove(c echo.Context, m *requestMetrics, ctx context.Context, store Storage, userID string, id int64, mv domain.Move, msg string) error {
	start := time.Now()
	t, err := store.ApplyMove(ctx, userID, id, mv)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeStoreError(c, m, err)
	}
	t = t.WithDerived()
	notifyBoardChange(userID, taskEvent(domain.EventTodoMoved, t))
	return c.JSON(http.StatusOK, todoResponse{Message: msg, Todo: t})
}

func changeLifecycle(store Storage, auth Authenticator, logger *log.Logger, route string, l domain.Lifecycle) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		m, ctx, userID, ok, err := startRequest(c, auth, logger, route)
		defer func() { m.Log(c.Response().Status, errIfServer(c, err)) }()
		if !ok {
			return err
		}
		id, idOK := parseTodoID(c)
		if !idOK {
			return writeStoreError(c, m, domain.ErrNotOwned)
		}

		start := time.Now()
		t, serr := store.SetLifecycle(ctx, userID, id, l)
		m.ObserveStore(time.Since(start))
		if serr != nil {
			return writeStoreError(c, m, serr)
		}
		t = t.WithDerived()
		notifyBoardChange(userID, taskEvent(domain.EventTodoLifecycle, t))
		if l == domain.LifecycleDelete {
			return c.JSON(http.StatusOK, messageResponse{Message: "Todo deleted successfully"})
		}
		return c.JSON(http.StatusOK, todoResponse{Message: "Todo " + string(l) + "d successfully", Todo: t})
	}
}

func taskEvent(typ string, t domain.Task) domain.BoardEvent {
	ev := domain.BoardEvent{Type: typ, TaskIDs: []int64{t.ID}}
	if col, ok := domain.ClassifyKanban(t); ok {
		ev.Column = col
	}
	if data, err := sonic.Marshal(t); err == nil {
		ev.Data = data
	}
	return ev
}

// errIfServer reports handler errors and 5xx responses to the metrics log.
func errIfServer(c echo.Context, err error) error {
	if err != nil {
		return err
	}
	if c.Response().Status >= http.StatusInternalServerError {
		return errors.New(http.StatusText(c.Response().Status))
	}
	return nil
}
