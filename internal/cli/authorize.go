package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/agentgate/agentgate/pkg/types"
)

func newAuthorizeCmd() *cobra.Command {
	var (
		opType      string
		targetPath  string
		userID      string
		contentFile string
		fileSize    int64
		permissions []string
	)

	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Submit an operation for authorization",
		RunE: func(cmd *cobra.Command, args []string) error {
			op := types.OperationContext{
				Operation:   types.OperationType(opType),
				TargetPath:  targetPath,
				UserID:      userID,
				FileSize:    fileSize,
				Permissions: permissions,
			}
			if contentFile != "" {
				b, err := os.ReadFile(contentFile)
				if err != nil {
					return err
				}
				op.Content = string(b)
			}

			d, err := newClient(cmd).Authorize(cmd.Context(), op)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, d); err != nil {
				return err
			}
			if !d.Allow {
				return &ExitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opType, "op", "", "Operation type: read|write|delete|modify")
	cmd.Flags().StringVar(&targetPath, "path", "", "Target path of the operation")
	cmd.Flags().StringVar(&userID, "user", "", "Acting user or agent ID")
	cmd.Flags().StringVar(&contentFile, "content-file", "", "File whose contents the operation would write")
	cmd.Flags().Int64Var(&fileSize, "file-size", 0, "Size in bytes of the affected file")
	cmd.Flags().StringSliceVar(&permissions, "permission", nil, "Permission held by the caller (repeatable)")
	_ = cmd.MarkFlagRequired("op")
	return cmd
}
