package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/henghuang/nifti"
	"gonum.org/v1/gonum/stat"

	"atlasfusion/internal/models"
	"atlasfusion/pkg/config"
	"atlasfusion/pkg/fusion"
	"atlasfusion/pkg/similarity"
	"atlasfusion/pkg/volume"
)

// registrationLabel names the registration method that produced the atlas
// label sets. The fusion core supports several methods side by side; the CLI
// works with a single one.
const registrationLabel = "DIR"

func main() {
	// Parse command line arguments
	targetPath := flag.String("target", "", "Target image in NIfTI format (.nii or .nii.gz)")
	atlasDir := flag.String("atlas-dir", "", "Directory with one subdirectory per atlas case, each containing image.nii and one <structure>.nii per labeled structure")
	structures := flag.String("structures", "", "Comma-separated structure names to fuse (default: all structures found)")
	voteType := flag.String("vote", "", "Weighting scheme: unweighted, global, local, block or patch_correlation (default: from config)")
	method := flag.String("method", "weighted", "Fusion method: weighted or staple")
	configPath := flag.String("config", "atlasfusion.yaml", "Configuration file in YAML format")
	outputDir := flag.String("output", "fused_labels", "Directory to save fused label masks as PNG slice stacks")
	flag.Parse()

	// Validate inputs
	if *targetPath == "" || *atlasDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *voteType == "" {
		*voteType = cfg.Fusion.VoteType
	}

	fmt.Println("================================")
	fmt.Println("MULTI-ATLAS LABEL FUSION")
	fmt.Println("================================")

	// Step 1: Load the target image
	fmt.Println("Step 1: Loading target image...")
	target, err := loadNifti(*targetPath)
	if err != nil {
		log.Fatalf("Failed to load target image: %v", err)
	}
	fmt.Printf("Loaded target %dx%dx%d, spacing %.2fx%.2fx%.2f mm\n",
		target.Size[0], target.Size[1], target.Size[2],
		target.Spacing[0], target.Spacing[1], target.Spacing[2])

	// Step 2: Load the atlas cases
	fmt.Println("Step 2: Loading atlas cases...")
	atlasImages, atlasLabels, err := loadAtlasCases(*atlasDir)
	if err != nil {
		log.Fatalf("Failed to load atlas cases: %v", err)
	}
	fmt.Printf("Loaded %d atlas cases\n", len(atlasImages))

	structureNames := selectStructures(*structures, atlasLabels)
	if len(structureNames) == 0 {
		log.Fatalf("No structures to fuse")
	}
	fmt.Printf("Fusing structures: %s\n", strings.Join(structureNames, ", "))

	startTime := time.Now()
	var combined map[string]*volume.Image

	switch strings.ToLower(*method) {
	case "staple":
		// STAPLE needs no weight maps, only the binary label sets.
		fmt.Println("Step 3: Combining labels with STAPLE...")
		combined, err = fusion.CombineLabelsSTAPLEOpts(atlasLabels, cfg.Fusion.Threshold, cfg.StapleOptions())
		if err != nil {
			log.Fatalf("STAPLE fusion failed: %v", err)
		}

	case "weighted":
		// Step 3: Compute a weight map per atlas case
		fmt.Printf("Step 3: Computing %s weight maps...\n", *voteType)
		scheme, err := fusion.ParseVoteScheme(*voteType, cfg.VoteParams())
		if err != nil {
			log.Fatalf("Invalid vote configuration: %v", err)
		}

		atlasSet := models.AtlasSet{}
		for caseID, caseImage := range atlasImages {
			weightMap, err := fusion.ComputeWeightMap(target, caseImage, scheme)
			if err != nil {
				log.Fatalf("Weight map for case %s failed: %v", caseID, err)
			}
			labelSet := models.LabelSet{models.WeightMapKey: weightMap}
			for name, label := range atlasLabels[caseID] {
				labelSet[name] = label
			}
			atlasSet[caseID] = models.Case{registrationLabel: labelSet}
			fmt.Printf("  case %s: weight map ready (mean %.4g, stddev %.4g)\n",
				caseID, stat.Mean(weightMap.Data, nil), stat.StdDev(weightMap.Data, nil))
		}

		// Step 4: Combine the weighted labels
		fmt.Println("Step 4: Combining weighted labels...")
		combined, err = fusion.CombineLabels(atlasSet, structureNames, registrationLabel,
			cfg.Fusion.Threshold, cfg.Fusion.SmoothSigma)
		if err != nil {
			log.Fatalf("Label combination failed: %v", err)
		}

	default:
		log.Fatalf("Unknown fusion method %q (want weighted or staple)", *method)
	}

	// Step 5: Post-process each consensus probability image into a mask
	fmt.Println("Step 5: Post-processing consensus masks...")
	for _, name := range structureNames {
		prob, ok := combined[name]
		if !ok {
			continue
		}
		mask, err := fusion.ProcessProbabilityImage(prob, cfg.Postprocess.ProbabilityThreshold)
		if err != nil {
			log.Fatalf("Post-processing %s failed: %v", name, err)
		}

		maskDir := filepath.Join(*outputDir, name)
		if err := saveSliceStack(mask, maskDir); err != nil {
			log.Fatalf("Saving mask for %s failed: %v", name, err)
		}
		fmt.Printf("  %s: %.0f voxels, saved to %s\n", name, mask.Sum(), maskDir)

		// Report how well the consensus agrees with each atlas vote.
		if cfg.Output.Verbose {
			for caseID, labels := range atlasLabels {
				label, ok := labels[name]
				if !ok {
					continue
				}
				mi, err := similarity.MutualInformation(mask.Data, label.Data, similarity.BinCount(64))
				if err != nil {
					continue
				}
				fmt.Printf("    MI(consensus, %s) = %.4f\n", caseID, mi)
			}
		}
	}

	fmt.Printf("\nFusion completed in %.2f seconds\n", time.Since(startTime).Seconds())
}

// loadNifti reads a NIfTI volume into an image, taking the voxel spacing
// from the header. Only the first time point is read.
func loadNifti(path string) (*volume.Image, error) {
	var niftiImage nifti.Nifti1Image
	niftiImage.LoadImage(path, true)

	var header nifti.Nifti1Header
	header.LoadHeader(path)

	dims := niftiImage.GetDims()
	nx, ny, nz := dims[0], dims[1], dims[2]
	if nx == 0 || ny == 0 || nz == 0 {
		return nil, fmt.Errorf("empty or unreadable NIfTI volume %s", path)
	}

	img := volume.New([3]int{nx, ny, nz})
	img.Spacing = [3]float64{
		float64(header.Pixdim[1]),
		float64(header.Pixdim[2]),
		float64(header.Pixdim[3]),
	}
	for a := 0; a < 3; a++ {
		if img.Spacing[a] <= 0 {
			img.Spacing[a] = 1
		}
	}
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				img.SetAt(x, y, z, float64(niftiImage.GetAt(x, y, z, 0)))
			}
		}
	}
	return img, nil
}

// loadAtlasCases reads every case subdirectory of dir. The registered atlas
// image is expected as image.nii(.gz); every other NIfTI file is treated as
// a structure label map named after the file.
func loadAtlasCases(dir string) (map[string]*volume.Image, map[string]map[string]*volume.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}

	images := make(map[string]*volume.Image)
	labels := make(map[string]map[string]*volume.Image)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		caseID := entry.Name()
		caseDir := filepath.Join(dir, caseID)
		files, err := os.ReadDir(caseDir)
		if err != nil {
			return nil, nil, err
		}
		caseLabels := make(map[string]*volume.Image)
		for _, f := range files {
			name := f.Name()
			if !strings.HasSuffix(name, ".nii") && !strings.HasSuffix(name, ".nii.gz") {
				continue
			}
			base := strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".nii")
			img, err := loadNifti(filepath.Join(caseDir, name))
			if err != nil {
				return nil, nil, fmt.Errorf("case %s: %w", caseID, err)
			}
			if base == "image" {
				images[caseID] = img
			} else {
				caseLabels[base] = img
			}
		}
		if images[caseID] == nil {
			return nil, nil, fmt.Errorf("case %s has no image.nii", caseID)
		}
		labels[caseID] = caseLabels
	}
	if len(images) == 0 {
		return nil, nil, fmt.Errorf("no atlas cases found in %s", dir)
	}
	return images, labels, nil
}

// selectStructures resolves the requested structure list, defaulting to the
// union of structures across all cases.
func selectStructures(requested string, atlasLabels map[string]map[string]*volume.Image) []string {
	if requested != "" {
		var names []string
		for _, name := range strings.Split(requested, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		return names
	}
	seen := make(map[string]struct{})
	var names []string
	for _, labels := range atlasLabels {
		for name := range labels {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// saveSliceStack writes a binary mask as one grayscale PNG per axial slice.
func saveSliceStack(mask *volume.Image, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %v", err)
	}
	nx, ny, nz := mask.Size[0], mask.Size[1], mask.Size[2]
	for z := 0; z < nz; z++ {
		img := image.NewGray(image.Rect(0, 0, nx, ny))
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				if mask.At(x, y, z) != 0 {
					img.SetGray(x, y, color.Gray{Y: 255})
				}
			}
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%03d.png", z)))
		if err != nil {
			return fmt.Errorf("failed to create slice file: %v", err)
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			return fmt.Errorf("failed to encode slice: %v", err)
		}
		f.Close()
	}
	return nil
}
