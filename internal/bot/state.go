package bot

import "taskplanner/internal/service"

type conversationStage int

const (
	stageNone conversationStage = iota
	stageTitle
	stageDescription
	stageCategory
	stageDue
	stageRepeat
	stageInterval
	stageWeekdays
	stageEnd
	stageEndUntil
	stageEndCount
)

type conversationState struct {
	stage conversationStage
	input service.TaskInput
}

type confirmationAction int

const (
	actionComplete confirmationAction = iota
	actionDelete
)

type confirmationRequest struct {
	taskID uint
	action confirmationAction
}

// pendingEdit holds an edit of a series occurrence until the user picks a scope.
type pendingEdit struct {
	taskID  uint
	changes service.TaskChanges
}

func (b *Bot) getConfirmation(userID int64) (confirmationRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.confirmations[userID]
	return req, ok
}

func (b *Bot) setConfirmation(userID int64, req confirmationRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmations[userID] = req
}

func (b *Bot) clearConfirmation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.confirmations, userID)
}

func (b *Bot) setPendingEdit(userID int64, edit pendingEdit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pendingEdits[userID] = edit
}

// takePendingEdit returns and forgets the pending edit for a task.
func (b *Bot) takePendingEdit(userID int64, taskID uint) (pendingEdit, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	edit, ok := b.pendingEdits[userID]
	if !ok || edit.taskID != taskID {
		return pendingEdit{}, false
	}
	delete(b.pendingEdits, userID)
	return edit, true
}

func (b *Bot) clearPendingEdit(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pendingEdits, userID)
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) hasConversation(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.conversations[userID]
	return ok
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}
