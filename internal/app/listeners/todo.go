package listeners

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coachpo/eventframe/internal/domain/schema"
	"github.com/coachpo/eventframe/internal/infra/bus/eventbus"
)

// TopicTodoListUpdated is broadcast to the peer after every todo change.
const TopicTodoListUpdated = "todo.list_updated"

// Todo is one item of the in-memory list.
type Todo struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	CreatedAt string `json:"created_at"`
}

// TodoStore keeps todos in memory.
type TodoStore struct {
	mu     sync.Mutex
	items  map[int]Todo
	nextID int
	lastID int
}

// NewTodoStore returns an empty store.
func NewTodoStore() *TodoStore {
	return &TodoStore{items: make(map[int]Todo), nextID: 1}
}

func (s *TodoStore) add(title string, at time.Time) Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	todo := Todo{ID: s.nextID, Title: title, CreatedAt: at.UTC().Format(time.RFC3339Nano)}
	s.items[todo.ID] = todo
	s.lastID = todo.ID
	s.nextID++
	return todo
}

func (s *TodoStore) latest() (Todo, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	todo, ok := s.items[s.lastID]
	return todo, len(s.items), ok
}

func (s *TodoStore) complete(id int) (Todo, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	todo, ok := s.items[id]
	if !ok {
		return Todo{}, len(s.items), false
	}
	todo.Completed = true
	s.items[id] = todo
	return todo, len(s.items), true
}

func (s *TodoStore) remove(id int) (Todo, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	todo, ok := s.items[id]
	if !ok {
		return Todo{}, len(s.items), false
	}
	delete(s.items, id)
	return todo, len(s.items), true
}

// List returns the todos ordered by id.
func (s *TodoStore) List() []Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Todo, 0, len(s.items))
	for _, t := range s.items {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clear empties the store and restarts ids at 1.
func (s *TodoStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[int]Todo)
	s.nextID = 1
	s.lastID = 0
}

func (s *Set) todos() []eventbus.Registration {
	return []eventbus.Registration{
		{Name: "todo.save", Topic: "todo.created", Priority: 10, Listener: func(_ context.Context, evt *schema.Event) (schema.Result, error) {
			todo := s.Todos.add(stringField(evt, "title"), evt.CreatedAt)
			s.logger.Info().Int("todo_id", todo.ID).Str("title", todo.Title).Msg("todo saved")
			return schema.NewReply(map[string]any{"todo_id": todo.ID, "saved": true}), nil
		}},
		{Name: "todo.announce_created", Topic: "todo.created", Priority: 5, Listener: func(context.Context, *schema.Event) (schema.Result, error) {
			todo, total, ok := s.Todos.latest()
			if !ok {
				return schema.NewReply(map[string]any{"broadcasted": false}), nil
			}
			return listUpdated("created", todo, total), nil
		}},
		{Name: "todo.complete", Topic: "todo.completed", Listener: func(_ context.Context, evt *schema.Event) (schema.Result, error) {
			todo, total, ok := s.Todos.complete(int(numberField(evt, "id")))
			if !ok {
				return schema.NewReply(map[string]any{"completed": false, "error": "Todo not found"}), nil
			}
			return listUpdated("completed", todo, total), nil
		}},
		{Name: "todo.delete", Topic: "todo.deleted", Listener: func(_ context.Context, evt *schema.Event) (schema.Result, error) {
			todo, total, ok := s.Todos.remove(int(numberField(evt, "id")))
			if !ok {
				return schema.NewReply(map[string]any{"deleted": false, "error": "Todo not found"}), nil
			}
			return listUpdated("deleted", todo, total), nil
		}},
	}
}

func listUpdated(action string, todo Todo, total int) schema.Result {
	evt := schema.NewEvent(TopicTodoListUpdated, map[string]any{
		"action": action,
		"todo":   todo,
		"total":  total,
	})
	return schema.NewBroadcast(evt, schema.ScopeBroadcast)
}
