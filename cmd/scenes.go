package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"storyme-server/modules/common/model"
	"storyme-server/modules/scene"
)

var (
	sceneCharacters []string
	sceneClothing   string
)

var scenesCmd = &cobra.Command{
	Use:   "scenes <script-file>",
	Short: "Parse a story script and print its scenes, settings and outfits as JSON",
	Long: `Parse a story script the same way the generate-images endpoint does and
print the scene breakdown without calling any image provider. Use "-" to read
the script from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			script []byte
			err    error
		)
		if args[0] == "-" {
			script, err = io.ReadAll(cmd.InOrStdin())
		} else {
			script, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to read script: %w", err)
		}
		return printScenes(cmd.OutOrStdout(), string(script), sceneCharacters, sceneClothing)
	},
}

func init() {
	rootCmd.AddCommand(scenesCmd)

	scenesCmd.Flags().StringSliceVar(&sceneCharacters, "characters", nil, "character names, comma separated")
	scenesCmd.Flags().StringVar(&sceneClothing, "clothing", model.ClothingConsistent, "clothing consistency (consistent/scene-based)")
}

type scenesOutput struct {
	Scenes   []model.Scene     `json:"scenes"`
	Settings map[string]string `json:"settings"`
	Outfits  map[string]string `json:"outfits"`
}

func printScenes(w io.Writer, script string, names []string, clothing string) error {
	var characters []model.Character
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			characters = append(characters, model.Character{Name: n})
		}
	}

	scenes, err := scene.ParseScriptIntoScenes(script, characters)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(scenesOutput{
		Scenes:   scenes,
		Settings: scene.BuildConsistentSceneSettings(scenes),
		Outfits:  scene.BuildOutfitBook(scenes, characters, clothing),
	})
}
