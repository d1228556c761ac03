package cmd

import (
	"errors"
	"fmt"
	"time"

	"CastShelf/core/auth"

	"github.com/spf13/cobra"
)

var (
	tokenUserID int64
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "为指定用户签发访问令牌",
	Long:  `使用JWT_SECRET签发一个Bearer令牌，便于在没有登录服务时调用API。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUserID <= 0 {
			return errors.New("--user must be a positive user ID")
		}
		tokens, err := auth.NewTokenManager(cfg.JWTSecret)
		if err != nil {
			return err
		}
		tok, err := tokens.GenerateToken(tokenUserID, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().Int64VarP(&tokenUserID, "user", "u", 0, "用户ID")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "令牌有效期")
}
