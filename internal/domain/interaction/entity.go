// Package interaction содержит журнал взаимодействий: одна запись на
// неупорядоченную пару участников и конечный автомат like/pass → mutual.
package interaction

import (
	"strings"
	"time"

	"github.com/dentameet/matching-engine/internal/domain/shared"
	"github.com/dentameet/matching-engine/pkg/textnorm"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTION
// ══════════════════════════════════════════════════════════════════════════════

// Action - решение участника по кандидату.
type Action string

const (
	ActionLike Action = "like"
	ActionPass Action = "pass"
)

// ParseAction разбирает действие. Регистр не важен.
func ParseAction(s string) (Action, error) {
	switch Action(textnorm.Fold(s)) {
	case ActionLike:
		return ActionLike, nil
	case ActionPass:
		return ActionPass, nil
	default:
		return "", shared.ErrUnknownAction
	}
}

// Liked - действие выражает интерес.
func (a Action) Liked() bool {
	return a == ActionLike
}

// ══════════════════════════════════════════════════════════════════════════════
// PAIR KEY
// ══════════════════════════════════════════════════════════════════════════════

// PairKey - канонический ключ неупорядоченной пары: отсортированные
// идентификаторы через разделитель. Не зависит от порядка аргументов.
type PairKey string

// NewPairKey строит ключ пары. Оба ID должны быть валидны и различны.
func NewPairKey(a, b shared.UserID) (PairKey, error) {
	if !a.IsValid() || !b.IsValid() {
		return "", shared.ErrInvalidUserID
	}
	if a == b {
		return "", shared.ErrSelfAction
	}
	if b < a {
		a, b = b, a
	}
	return PairKey(a.String() + shared.PairSeparator + b.String()), nil
}

// ParsePairKey разбирает ключ, полученный извне, и приводит его
// к каноническому виду.
func ParsePairKey(s string) (PairKey, error) {
	parts := strings.Split(s, shared.PairSeparator)
	if len(parts) != 2 {
		return "", shared.ErrInvalidPairKey
	}
	key, err := NewPairKey(shared.UserID(parts[0]), shared.UserID(parts[1]))
	if err != nil {
		return "", shared.ErrInvalidPairKey
	}
	return key, nil
}

// Users возвращает участников пары в каноническом порядке.
func (k PairKey) Users() (shared.UserID, shared.UserID) {
	a, b, _ := strings.Cut(string(k), shared.PairSeparator)
	return shared.UserID(a), shared.UserID(b)
}

// Contains проверяет, входит ли участник в пару.
func (k PairKey) Contains(id shared.UserID) bool {
	a, b := k.Users()
	return id == a || id == b
}

// String возвращает строковое представление.
func (k PairKey) String() string {
	return string(k)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// State - состояние пары. Отсутствие записи - неявное состояние StateNone.
type State string

const (
	StateNone         State = "none"
	StateOneSidedLike State = "one_sided_like"
	StateOneSidedPass State = "passed"
	StateMutual       State = "mutual"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record - единственная запись о взаимодействии пары.
// Инвариант: IsMutual == InitiatorLiked && ResponderLiked.
type Record struct {
	// ID - детерминированный идентификатор записи.
	ID string `json:"id"`

	PairKey PairKey `json:"pair_key"`

	// InitiatorID - кто действовал первым, ResponderID - второй участник.
	InitiatorID shared.UserID `json:"initiator_id"`
	ResponderID shared.UserID `json:"responder_id"`

	InitiatorLiked bool `json:"initiator_liked"`
	ResponderLiked bool `json:"responder_liked"`

	// ResponderActed - второй участник уже принял решение.
	ResponderActed bool `json:"responder_acted"`

	IsMutual bool `json:"is_mutual"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord создаёт запись для первого действия в паре.
func NewRecord(id string, actor, target shared.UserID, action Action, now time.Time) (*Record, error) {
	key, err := NewPairKey(actor, target)
	if err != nil {
		return nil, err
	}
	if action != ActionLike && action != ActionPass {
		return nil, shared.ErrUnknownAction
	}

	return &Record{
		ID:             id,
		PairKey:        key,
		InitiatorID:    actor,
		ResponderID:    target,
		InitiatorLiked: action.Liked(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Apply записывает решение участника и пересчитывает взаимность.
// Возвращает true, если пара только что стала взаимной.
func (r *Record) Apply(actor shared.UserID, action Action, now time.Time) (bool, error) {
	if action != ActionLike && action != ActionPass {
		return false, shared.ErrUnknownAction
	}

	wasMutual := r.IsMutual
	switch actor {
	case r.InitiatorID:
		r.InitiatorLiked = action.Liked()
	case r.ResponderID:
		r.ResponderLiked = action.Liked()
		r.ResponderActed = true
	default:
		return false, shared.ErrNotParticipant
	}

	r.IsMutual = r.InitiatorLiked && r.ResponderLiked
	r.UpdatedAt = now
	return !wasMutual && r.IsMutual, nil
}

// State возвращает состояние пары.
func (r *Record) State() State {
	switch {
	case r == nil:
		return StateNone
	case r.IsMutual:
		return StateMutual
	case !r.InitiatorLiked || (r.ResponderActed && !r.ResponderLiked):
		return StateOneSidedPass
	default:
		return StateOneSidedLike
	}
}

// Involves проверяет участие пользователя в паре.
func (r *Record) Involves(id shared.UserID) bool {
	return r.InitiatorID == id || r.ResponderID == id
}

// Other возвращает второго участника пары.
func (r *Record) Other(id shared.UserID) shared.UserID {
	if r.InitiatorID == id {
		return r.ResponderID
	}
	return r.InitiatorID
}

// Clone возвращает независимую копию записи.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}
