package services

import (
	"errors"
	"fmt"

	apperrors "github.com/chatspace/backend-go/internal/errors"
	"github.com/chatspace/backend-go/internal/logger"
	"github.com/chatspace/backend-go/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ChatStore 会话与消息的持久化层
type ChatStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewChatStore 创建会话存储
func NewChatStore(db *gorm.DB) *ChatStore {
	return &ChatStore{
		db:     db,
		logger: logger.Named("chat_store"),
	}
}

// CreateSession 创建新会话，标题使用默认占位值
func (s *ChatStore) CreateSession(userID uint, modelName, providerPrefix string, projectID *string) (*models.ChatSession, error) {
	session := &models.ChatSession{
		ID:             uuid.New().String(),
		UserID:         userID,
		Title:          models.DefaultSessionTitle,
		ModelName:      modelName,
		ProviderPrefix: providerPrefix,
		ProjectID:      projectID,
	}
	if err := s.db.Create(session).Error; err != nil {
		return nil, fmt.Errorf("创建会话失败: %w", err)
	}
	return session, nil
}

// GetSession 按ID获取会话，校验属主
func (s *ChatStore) GetSession(sessionID string, userID uint) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.db.Where("id = ? AND user_id = ?", sessionID, userID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewBusinessError(apperrors.ErrCodeNotFound, "会话不存在")
	}
	if err != nil {
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}
	return &session, nil
}

// ListSessions 按最近活跃排序列出用户会话
func (s *ChatStore) ListSessions(userID uint, projectID *string) ([]models.ChatSession, error) {
	query := s.db.Where("user_id = ?", userID)
	if projectID != nil {
		query = query.Where("project_id = ?", *projectID)
	}
	var sessions []models.ChatSession
	if err := query.Order("updated_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("查询会话列表失败: %w", err)
	}
	return sessions, nil
}

// TouchSession 更新会话的活跃时间
func (s *ChatStore) TouchSession(sessionID string) error {
	return s.db.Model(&models.ChatSession{}).
		Where("id = ?", sessionID).
		Update("updated_at", gorm.Expr("NOW()")).Error
}

// RenameSession 用户手动改名，之后自动标题不再覆盖
func (s *ChatStore) RenameSession(sessionID string, userID uint, title string) error {
	result := s.db.Model(&models.ChatSession{}).
		Where("id = ? AND user_id = ?", sessionID, userID).
		Updates(map[string]interface{}{"title": title, "title_user_set": true})
	if result.Error != nil {
		return fmt.Errorf("重命名会话失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewBusinessError(apperrors.ErrCodeNotFound, "会话不存在")
	}
	return nil
}

// UpdateTitleIfDefault 自动生成的标题只在用户未改名且仍是默认标题时写入
// 返回是否实际更新
func (s *ChatStore) UpdateTitleIfDefault(sessionID, title string) (bool, error) {
	result := s.db.Model(&models.ChatSession{}).
		Where("id = ? AND title = ? AND title_user_set = ?", sessionID, models.DefaultSessionTitle, false).
		Update("title", title)
	if result.Error != nil {
		return false, fmt.Errorf("更新标题失败: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// DeleteSession 删除会话及其全部消息
func (s *ChatStore) DeleteSession(sessionID string, userID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND user_id = ?", sessionID, userID).Delete(&models.ChatSession{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperrors.NewBusinessError(apperrors.ErrCodeNotFound, "会话不存在")
		}
		return tx.Where("session_id = ?", sessionID).Delete(&models.ChatMessage{}).Error
	})
}

// ListMessages 按时间顺序列出会话消息
func (s *ChatStore) ListMessages(sessionID string, userID uint) ([]models.ChatMessage, error) {
	if _, err := s.GetSession(sessionID, userID); err != nil {
		return nil, err
	}
	var messages []models.ChatMessage
	err := s.db.Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("查询消息失败: %w", err)
	}
	return messages, nil
}

// SaveMessage 追加一条消息
func (s *ChatStore) SaveMessage(msg *models.ChatMessage) error {
	if err := s.db.Create(msg).Error; err != nil {
		return fmt.Errorf("保存消息失败: %w", err)
	}
	return nil
}

// TruncateFrom 编辑重发：删除目标消息本身及其之后的所有消息
// 之后调用方重新追加编辑后的用户消息
func (s *ChatStore) TruncateFrom(sessionID string, messageID uint) error {
	var target models.ChatMessage
	err := s.db.Where("id = ? AND session_id = ?", messageID, sessionID).First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NewBusinessError(apperrors.ErrCodeNotFound, "消息不存在")
	}
	if err != nil {
		return fmt.Errorf("查询消息失败: %w", err)
	}

	result := s.db.Where(
		"session_id = ? AND (created_at > ? OR (created_at = ? AND id >= ?))",
		sessionID, target.CreatedAt, target.CreatedAt, target.ID,
	).Delete(&models.ChatMessage{})
	if result.Error != nil {
		return fmt.Errorf("截断消息失败: %w", result.Error)
	}

	s.logger.Info("Truncated session messages",
		zap.String("session_id", sessionID),
		zap.Uint("from_message_id", messageID),
		zap.Int64("deleted", result.RowsAffected))
	return nil
}
